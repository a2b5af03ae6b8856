package rpcserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// FiduciaryMetrics counts the signing work of the fiduciary.
type FiduciaryMetrics struct {
	Registry                   *prometheus.Registry
	ReceivedSigningRequests    prometheus.Counter
	SuccessfulSigningRequests  prometheus.Counter
	FailedSigningRequests      prometheus.Counter
	FinalizedSendRequests      prometheus.Counter
	FailedFinalizeSendRequests prometheus.Counter
	PublicKeyRequests          prometheus.Counter
}

// NewFiduciaryMetrics creates the metrics in their own registry.
func NewFiduciaryMetrics() *FiduciaryMetrics {
	registry := prometheus.NewRegistry()
	registerer := promauto.With(registry)

	return &FiduciaryMetrics{
		Registry: registry,
		ReceivedSigningRequests: registerer.NewCounter(prometheus.CounterOpts{
			Name: "fiduciary_received_signing_requests",
			Help: "The total number of sign-for-custody requests received by the fiduciary",
		}),
		SuccessfulSigningRequests: registerer.NewCounter(prometheus.CounterOpts{
			Name: "fiduciary_succeeded_signing_requests",
			Help: "The total number of times the fiduciary responded with a signature",
		}),
		FailedSigningRequests: registerer.NewCounter(prometheus.CounterOpts{
			Name: "fiduciary_failed_signing_requests",
			Help: "The total number of sign-for-custody requests that failed",
		}),
		FinalizedSendRequests: registerer.NewCounter(prometheus.CounterOpts{
			Name: "fiduciary_finalized_send_requests",
			Help: "The total number of send requests signed and broadcast by the fiduciary",
		}),
		FailedFinalizeSendRequests: registerer.NewCounter(prometheus.CounterOpts{
			Name: "fiduciary_failed_finalize_send_requests",
			Help: "The total number of send requests the fiduciary failed to finalize",
		}),
		PublicKeyRequests: registerer.NewCounter(prometheus.CounterOpts{
			Name: "fiduciary_public_key_requests",
			Help: "The total number of public key requests served by the fiduciary",
		}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *FiduciaryMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
