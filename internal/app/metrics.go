package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssim_connect_attempts_total",
		Help: "Connection attempts to the analyzer by outcome",
	}, []string{"outcome"})

	commandsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rssim_commands_sent_total",
		Help: "SCPI commands written to the analyzer",
	})

	commandErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rssim_command_errors_total",
		Help: "Failed command writes and errors reported by the analyzer",
	})

	commandsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rssim_commands_dropped_total",
		Help: "Command batches dropped because the writer queue was full",
	}, []string{"job"})
)
