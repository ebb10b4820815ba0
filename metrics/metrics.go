// Copyright 2026 The objcap Authors
// This file is part of objcap.
//
// objcap is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// objcap is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with objcap.  If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes the connection engine's internal counters and
// gauges as Prometheus metrics, served over HTTP by a tiny httprouter
// mux wrapped in permissive CORS for local dashboards.
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Registry bundles the counters and gauges a connection reports.
type Registry struct {
	reg *prometheus.Registry

	RequestsSent     prometheus.Counter
	RequestsReceived prometheus.Counter
	ResponsesSent    prometheus.Counter
	CallErrors       *prometheus.CounterVec
	PoolSize         prometheus.Gauge
	Outstanding      prometheus.Gauge
	ExposedObjects   prometheus.Gauge
	FreedObjects     prometheus.Counter
	ConnectionState  prometheus.Gauge
}

// NewRegistry constructs a fresh, independent metric set; each connection
// engine owns one so multiple connections in a process don't collide on
// metric names.
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_sent_total",
			Help: "Number of outbound Req messages written to the transport.",
		}),
		RequestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_received_total",
			Help: "Number of inbound Req messages read from the transport.",
		}),
		ResponsesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "responses_sent_total",
			Help: "Number of outbound Res messages written to the transport.",
		}),
		CallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "call_errors_total",
			Help: "Number of failed Call/CallMut invocations, labeled by error kind.",
		}, []string{"kind"}),
		PoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_entries",
			Help: "Current number of entries held in the object pool.",
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outstanding_calls",
			Help: "Current number of outbound calls awaiting a response.",
		}),
		ExposedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "exposed_objects",
			Help: "Current number of objects exposed into the high-range id space.",
		}),
		FreedObjects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "freed_objects_total",
			Help: "Number of pool entries released in response to a Free request.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state",
			Help: "Connection state: 0=Running, 1=Draining, 2=Closed.",
		}),
	}

	reg.MustRegister(
		r.RequestsSent, r.RequestsReceived, r.ResponsesSent,
		r.CallErrors, r.PoolSize, r.Outstanding,
		r.ExposedObjects, r.FreedObjects, r.ConnectionState,
	)
	return r
}

// Server serves a Registry's metrics over HTTP at /metrics.
type Server struct {
	http *http.Server
}

// NewServer builds (but does not start) an HTTP server for reg.
func NewServer(addr string, reg *Registry) *Server {
	router := httprouter.New()
	handler := promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{})
	router.Handler(http.MethodGet, "/metrics", handler)

	wrapped := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	return &Server{http: &http.Server{Addr: addr, Handler: wrapped}}
}

// Serve blocks accepting connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case <-ctx.Done():
		_ = s.http.Close()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// ListenAndServe opens a listener on the server's configured address
// before serving.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
