package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// ShutdownTimeout bounds how long in-flight requests may finish.
	ShutdownTimeout = 30 * time.Second
	// DefaultWriteTimeout is the floor for the response write deadline.
	DefaultWriteTimeout = 30 * time.Second

	writeHeadroom = 5 * time.Second
)

// Options tune the HTTP server.
type Options struct {
	// RequestBudget is the worst-case time a handler may spend before
	// writing its response. The write deadline is raised to cover it.
	RequestBudget time.Duration
}

func (o Options) writeTimeout() time.Duration {
	return max(DefaultWriteTimeout, o.RequestBudget+writeHeadroom)
}

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, opts Options) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, handler, opts)
}

func newHTTPServer(handler http.Handler, opts Options) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      opts.writeTimeout(),
		IdleTimeout:       120 * time.Second,
	}
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, opts Options) error {
	srv := newHTTPServer(handler, opts)
	shutdownTimeout := max(ShutdownTimeout, srv.WriteTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		slog.Info("server shutdown complete")
		return nil
	})
	return g.Wait()
}
