//go:build !android && !ios

package app

import "context"

// DesktopEntryPoint builds a shell from opts and serves it until ctx is
// cancelled.
func DesktopEntryPoint(ctx context.Context, opts Options, socketPath string) error {
	shell, err := New(opts)
	if err != nil {
		return err
	}
	if opts.OnReady != nil {
		opts.OnReady(shell)
	}
	return shell.Serve(ctx, socketPath)
}

// MobileEntryPoint is only available on mobile builds.
func MobileEntryPoint(context.Context) error {
	panic("app: MobileEntryPoint called on a desktop build")
}
