package handoff

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type transition string

const (
	transitionStart       transition = "start"
	transitionBypass      transition = "bypass"
	transitionCallback    transition = "callback"
	transitionFallthrough transition = "fallthrough"

	outcomeOK    = "ok"
	outcomeError = "error"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "authbridge",
	Subsystem: "handoff",
	Name:      "transitions_total",
	Help:      "Mobile sign-in handoff transitions by outcome.",
}, []string{"transition", "outcome"})

func recordTransition(t transition, outcome string) {
	transitionsTotal.WithLabelValues(string(t), outcome).Inc()
}
