//go:build android || ios

package app

import (
	"context"

	"github.com/hasbase/hasbase-core/logger"
)

// MobileEntryPoint runs the mobile shell, which has no sidecar, until ctx is
// cancelled.
func MobileEntryPoint(ctx context.Context) error {
	log := logger.WithComponent("shell")
	log.Info("mobile shell started")
	<-ctx.Done()
	log.Info("mobile shell stopped")
	return nil
}

// DesktopEntryPoint is only available on desktop builds.
func DesktopEntryPoint(context.Context, Options, string) error {
	panic("app: DesktopEntryPoint called on a mobile build")
}
