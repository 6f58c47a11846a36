package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/OpenTraceLab/OpenTraceGPIB/pkg/gpib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Recorder exports controller activity as Prometheus metrics. It satisfies
// controller.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
	bridgeUp   prometheus.Gauge
}

// NewRecorder registers the bus collectors on a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpib_operations_total",
			Help: "Controller operations by outcome.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gpib_operation_duration_seconds",
			Help:    "Controller operation latency.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"op"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpib_bytes_total",
			Help: "Payload bytes moved across the bus.",
		}, []string{"direction"}),
		bridgeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpib_bridge_up",
			Help: "1 if the last bridge ping was answered.",
		}),
	}

	r.registry.MustRegister(
		r.operations,
		r.duration,
		r.bytes,
		r.bridgeUp,
		collectors.NewGoCollector(),
	)
	return r
}

// ObserveOperation counts op and records how long it took.
func (r *Recorder) ObserveOperation(op string, took time.Duration, err error) {
	r.operations.WithLabelValues(op, result(err)).Inc()
	r.duration.WithLabelValues(op).Observe(took.Seconds())
}

// ObserveBytes adds n payload bytes in direction dir.
func (r *Recorder) ObserveBytes(dir gpib.Direction, n int) {
	if n <= 0 {
		return
	}
	r.bytes.WithLabelValues(directionLabel(dir)).Add(float64(n))
}

// ObservePing records bridge liveness.
func (r *Recorder) ObservePing(alive bool) {
	if alive {
		r.bridgeUp.Set(1)
	} else {
		r.bridgeUp.Set(0)
	}
}

// Registry exposes the private registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics and /health on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.serve(ctx, ln, log)
}

func (r *Recorder) serve(ctx context.Context, ln net.Listener, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", ln.Addr().String()).Info("metrics endpoint listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gpib.ErrMisuse):
		return "misuse"
	case errors.Is(err, gpib.ErrTimeout):
		return "timeout"
	case errors.Is(err, gpib.ErrLink):
		return "link_error"
	default:
		return "error"
	}
}

func directionLabel(dir gpib.Direction) string {
	switch dir {
	case gpib.ControllerTalks:
		return "tx"
	case gpib.InstrumentTalks:
		return "rx"
	default:
		return "unknown"
	}
}
