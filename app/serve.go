package app

import (
	"context"

	"github.com/hasbase/hasbase-core/ipc"
)

// Serve runs the shell until ctx is done. The control socket is opened first
// so a second shell fails before spawning anything; an empty socketPath
// disables it. On the way out the exit hook sends the shutdown handshake.
func (s *Shell) Serve(ctx context.Context, socketPath string) error {
	if socketPath != "" {
		srv, err := ipc.NewServer(socketPath, s)
		if err != nil {
			return err
		}
		srv.Start()
		srv.WaitReady()
		defer srv.Close()
	}

	s.Setup(ctx)

	<-ctx.Done()
	s.ExitRequested()
	return nil
}
