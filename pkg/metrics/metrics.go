// Package metrics exposes the node's Prometheus counters and a small admin
// HTTP server for liveness and scraping, the node-process ambient surface
// every teacher-repo service carries regardless of its domain logic.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Collector holds the node's counters. The ABCI application updates
// CheckTxTotal and DeliverTxTotal; no code in this repository increments
// CAIssuedTotal, so it stays at zero.
type Collector struct {
	CheckTxTotal   *prometheus.CounterVec
	DeliverTxTotal *prometheus.CounterVec
	CAIssuedTotal  prometheus.Counter
}

// New registers the node's counters against a fresh registry, so repeated
// calls in tests never collide with a package-global default registry.
func New() (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		CheckTxTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dpki_checktx_total",
			Help: "CheckTx calls by result code.",
		}, []string{"code"}),
		DeliverTxTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dpki_delivertx_total",
			Help: "DeliverTx calls by result code.",
		}, []string{"code"}),
		CAIssuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dpki_ca_issued_total",
			Help: "Certificates signed and broadcast by this node's CA service.",
		}),
	}
	return c, reg
}

// Server is the admin HTTP server exposing /healthz and /metrics.
type Server struct {
	http *http.Server
}

// NewServer builds a Server bound to addr. It does not start listening
// until Start is called.
func NewServer(addr string, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
