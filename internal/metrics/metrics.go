// Package metrics exposes prometheus counters for frame traffic.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roffe/peakcan/internal/logging"
)

// Frame kind label values.
const (
	KindClassic = "classic"
	KindFD      = "fd"
)

var (
	TxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcan_tx_frames_total",
		Help: "Frames handed to the driver.",
	}, []string{"kind"})
	RxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcan_rx_frames_total",
		Help: "Frames read from the driver.",
	}, []string{"kind"})
	SendRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pcan_send_retries_total",
		Help: "Writes retried because the transmit queue was full.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pcan_malformed_frames_total",
		Help: "Frames from the driver rejected for an invalid length.",
	})
	DriverErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pcan_driver_errors_total",
		Help: "Driver calls that returned a status other than OK, by call.",
	}, []string{"op"})
	OpenSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pcan_open_sockets",
		Help: "Channels currently initialized by this process.",
	})
)

// Driver error label values.
const (
	OpWrite = "write"
	OpRead  = "read"
	OpInit  = "initialize"
)

// Handler serves the default registry.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve runs a metrics server on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
