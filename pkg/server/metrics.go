/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of tcptune.
 *
 * tcptune is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * tcptune is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package server

import (
	"github.com/IrineSistiana/tcptune/pkg/sockopt"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects server statistics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	connTotal      prometheus.Counter
	activeConns    prometheus.Gauge
	msgTotal       prometheus.Counter
	bytesTotal     prometheus.Counter
	acceptErrTotal prometheus.Counter
	rejectedTotal  prometheus.Counter
	sockoptErr     *prometheus.CounterVec
}

// NewMetrics creates and registers server metrics to reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "connections_total",
			Help: "The total number of accepted connections",
		}),
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "The number of connections currently being served",
		}),
		msgTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_total",
			Help: "The total number of messages echoed",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "received_bytes_total",
			Help: "The total number of payload bytes received",
		}),
		acceptErrTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "accept_errors_total",
			Help: "The total number of failed accepts",
		}),
		rejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rejected_connections_total",
			Help: "The total number of connections closed by the per client rate limit",
		}),
		sockoptErr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sockopt_errors_total",
			Help: "The total number of socket options that failed to apply",
		}, []string{"option"}),
	}
	reg.MustRegister(m.connTotal, m.activeConns, m.msgTotal, m.bytesTotal, m.acceptErrTotal, m.rejectedTotal, m.sockoptErr)
	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connTotal.Inc()
	m.activeConns.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.activeConns.Dec()
}

func (m *Metrics) msgReceived(n int) {
	if m == nil {
		return
	}
	m.msgTotal.Inc()
	m.bytesTotal.Add(float64(n))
}

func (m *Metrics) acceptFailed() {
	if m == nil {
		return
	}
	m.acceptErrTotal.Inc()
}

func (m *Metrics) connRejected() {
	if m == nil {
		return
	}
	m.rejectedTotal.Inc()
}

func (m *Metrics) observeTuning(rs sockopt.Results) {
	if m == nil {
		return
	}
	for _, r := range rs.Failed() {
		m.sockoptErr.WithLabelValues(r.Option).Inc()
	}
}
