// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionbridge_requests_total",
			Help: "Total number of inbound HTTP requests by final outcome",
		},
		[]string{"outcome"}, // forwarded, bad_request, blacklisted, redirect, gone, dial_failed
	)

	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onionbridge_request_duration_seconds",
			Help:    "Time from accept to splice handoff or terminal response",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	ActiveSplices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onionbridge_active_splices",
			Help: "Number of HTTP connections currently spliced to a SOCKS tunnel",
		},
	)

	DialDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onionbridge_socks_dial_duration_seconds",
			Help:    "SOCKS4a connect-and-handshake duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	DialFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "onionbridge_socks_dial_failures_total",
			Help: "Total number of SOCKS4a dials that timed out or were rejected",
		},
	)

	BlacklistHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionbridge_blacklist_hits_total",
			Help: "Total number of requests refused by the blacklist, by reason",
		},
		[]string{"reason"}, // forbidden, legal_reasons
	)

	AliasHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionbridge_alias_hits_total",
			Help: "Total number of requests resolved through the alias table",
		},
		[]string{"type"}, // rewrite, redirect
	)

	ControlAuthTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionbridge_control_auth_total",
			Help: "Total number of control-port AUTH attempts",
		},
		[]string{"result"}, // success, failure
	)

	ControlCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionbridge_control_commands_total",
			Help: "Total number of control-port commands dispatched",
		},
		[]string{"command", "result"}, // result: ok, err
	)

	HaltState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "onionbridge_halt_state",
			Help: "1 when the request pipeline is halted, 0 otherwise",
		},
	)
)
