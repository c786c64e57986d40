package metrics

import (
	"context"
	"net/http"
)

// Serve starts a minimal HTTP server exposing /metrics until ctx is
// cancelled. Both agents start it on their --metrics-addr address, which
// has a default, so it runs whether or not that flag is given.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
