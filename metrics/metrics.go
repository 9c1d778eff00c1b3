/*
 * MIT License
 *
 * Copyright (c) 2021 Eduardo Ramos
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package metrics is the opaque counter/gauge/histogram registry consumed
// by server and client. The concrete backend is prometheus client_golang;
// callers never see a *prometheus.CounterVec directly, only the Registry
// façade, so the rest of the module stays agnostic of the backend per
// spec.md §1.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Side distinguishes the label set a Registry is built for.
type Side int

const (
	// Server registers the observed_requests_accepted/errored/responses
	// counter family plus response-delay and message-size families.
	Server Side = iota
	// Client registers the observed_requests_sents/unsents/responses_received/
	// responses_timedout counter family plus the same delay/size families.
	Client
)

// Registry is the family set a single server or client instance enables
// via EnableMetrics. It is safe for concurrent use: prometheus collectors
// are themselves concurrency-safe, and Registry adds no further state.
type Registry struct {
	side   Side
	source string

	requestsAccepted  *prometheus.CounterVec
	requestsErrored   *prometheus.CounterVec
	responses         *prometheus.CounterVec
	requestsSent      *prometheus.CounterVec
	requestsUnsent    *prometheus.CounterVec
	responsesReceived *prometheus.CounterVec
	responsesTimedOut *prometheus.CounterVec

	delaySeconds  *prometheus.HistogramVec
	recvSizeBytes *prometheus.HistogramVec
	sentSizeBytes *prometheus.HistogramVec
}

// DefaultDelayBuckets mirrors a typical response-time spread in seconds.
var DefaultDelayBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// DefaultSizeBuckets mirrors a typical message-size spread in bytes.
var DefaultSizeBuckets = prometheus.ExponentialBuckets(64, 4, 10)

// New registers and returns a Registry with the given instance name used
// as both metric-name prefix (`<instance>_<suffix>`) and default value of
// the `source` label. registerer is typically prometheus.DefaultRegisterer;
// passing a prometheus.NewRegistry() isolates metrics in tests.
func New(registerer prometheus.Registerer, side Side, instance string, delayBuckets, sizeBuckets []float64) *Registry {
	if delayBuckets == nil {
		delayBuckets = DefaultDelayBuckets
	}
	if sizeBuckets == nil {
		sizeBuckets = DefaultSizeBuckets
	}

	r := &Registry{side: side, source: instance}

	factory := func(name, help string, labels []string) *prometheus.CounterVec {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: instance + "_" + name,
			Help: help,
		}, labels)
		registerer.MustRegister(v)
		return v
	}

	switch side {
	case Server:
		r.requestsAccepted = factory("observed_requests_accepted", "requests accepted for processing", []string{"method", "source"})
		r.requestsErrored = factory("observed_requests_errored", "requests rejected before dispatch", []string{"method", "source"})
		r.responses = factory("observed_responses", "responses emitted, by terminal status", []string{"method", "status_code", "rst_stream_goaway_error_code", "source"})
	case Client:
		r.requestsSent = factory("observed_requests_sents", "requests successfully written to the wire", []string{"method", "source"})
		r.requestsUnsent = factory("observed_requests_unsents", "requests that failed to be written", []string{"method", "source"})
		r.responsesReceived = factory("observed_responses_received", "responses received before timeout", []string{"method", "status_code", "source"})
		r.responsesTimedOut = factory("observed_responses_timedout", "requests that timed out waiting for a response", []string{"method", "source"})
	}

	r.delaySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    instance + "_responses_delay_seconds",
		Help:    "elapsed time between request reception/send and response completion",
		Buckets: delayBuckets,
	}, []string{"method", "source"})
	r.recvSizeBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    instance + "_received_messages_size_bytes",
		Help:    "size in bytes of received message bodies",
		Buckets: sizeBuckets,
	}, []string{"method", "source"})
	r.sentSizeBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    instance + "_sent_messages_size_bytes",
		Help:    "size in bytes of sent message bodies",
		Buckets: sizeBuckets,
	}, []string{"method", "source"})

	registerer.MustRegister(r.delaySeconds, r.recvSizeBytes, r.sentSizeBytes)

	return r
}

// Source returns the default `source` label value (the instance name).
func (r *Registry) Source() string { return r.source }

// ObserveAccepted increments observed_requests_accepted{method}. Server-side only.
func (r *Registry) ObserveAccepted(method string) {
	if r == nil || r.requestsAccepted == nil {
		return
	}
	r.requestsAccepted.WithLabelValues(method, r.source).Inc()
}

// ObserveErrored increments observed_requests_errored{method}. Server-side only.
func (r *Registry) ObserveErrored(method string) {
	if r == nil || r.requestsErrored == nil {
		return
	}
	r.requestsErrored.WithLabelValues(method, r.source).Inc()
}

// ObserveResponse increments observed_responses{method,status_code,rst_stream_goaway_error_code}.
// rstGoawayCode is empty for a normally-closed response. Server-side only.
func (r *Registry) ObserveResponse(method, statusCode, rstGoawayCode string) {
	if r == nil || r.responses == nil {
		return
	}
	r.responses.WithLabelValues(method, statusCode, rstGoawayCode, r.source).Inc()
}

// ObserveSent increments observed_requests_sents{method}. Client-side only.
func (r *Registry) ObserveSent(method string) {
	if r == nil || r.requestsSent == nil {
		return
	}
	r.requestsSent.WithLabelValues(method, r.source).Inc()
}

// ObserveUnsent increments observed_requests_unsents{method}. Client-side only.
func (r *Registry) ObserveUnsent(method string) {
	if r == nil || r.requestsUnsent == nil {
		return
	}
	r.requestsUnsent.WithLabelValues(method, r.source).Inc()
}

// ObserveReceived increments observed_responses_received{method,status_code}. Client-side only.
func (r *Registry) ObserveReceived(method, statusCode string) {
	if r == nil || r.responsesReceived == nil {
		return
	}
	r.responsesReceived.WithLabelValues(method, statusCode, r.source).Inc()
}

// ObserveTimedOut increments observed_responses_timedout{method}. Client-side only.
func (r *Registry) ObserveTimedOut(method string) {
	if r == nil || r.responsesTimedOut == nil {
		return
	}
	r.responsesTimedOut.WithLabelValues(method, r.source).Inc()
}

// ObserveDelaySeconds records a responses_delay_seconds observation.
func (r *Registry) ObserveDelaySeconds(method string, seconds float64) {
	if r == nil || r.delaySeconds == nil {
		return
	}
	r.delaySeconds.WithLabelValues(method, r.source).Observe(seconds)
}

// ObserveReceivedSize records a received_messages_size_bytes observation.
func (r *Registry) ObserveReceivedSize(method string, bytes int) {
	if r == nil || r.recvSizeBytes == nil {
		return
	}
	r.recvSizeBytes.WithLabelValues(method, r.source).Observe(float64(bytes))
}

// ObserveSentSize records a sent_messages_size_bytes observation.
func (r *Registry) ObserveSentSize(method string, bytes int) {
	if r == nil || r.sentSizeBytes == nil {
		return
	}
	r.sentSizeBytes.WithLabelValues(method, r.source).Observe(float64(bytes))
}
