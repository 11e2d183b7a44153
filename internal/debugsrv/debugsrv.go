// Package debugsrv exposes the driver-local /healthz and /debug/pprof
// surface (spec §4.9), following the teacher's infra/server split between
// transport and business logic.
package debugsrv

import (
	"context"
	"net/http"
	"net/http/pprof"

	"github.com/go-chi/chi/v5"
)

// ReadyFunc reports whether the driver is ready to serve traffic.
type ReadyFunc func() bool

// Server is a small chi-backed HTTP server for operational introspection,
// entirely optional; it stops when Run's context is cancelled or Close is
// called.
type Server struct {
	httpServer *http.Server
}

// New builds the chi router: GET /healthz returns 200 once ready reports
// true, else 503; /debug/pprof/* mounts the stdlib profiler handlers;
// metrics, if non-nil, is mounted at /metrics (left as an injectable
// http.Handler since no Prometheus client is in the retrieved pack).
func New(addr string, ready ReadyFunc, metrics http.Handler) *Server {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	r.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	return &Server{httpServer: &http.Server{Addr: addr, Handler: r}}
}

// Run starts serving and blocks until the listener fails or ctx is
// cancelled, mirroring the teacher's server lifecycle split between Start
// and a signal-driven Stop.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Close shuts the server down immediately.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
