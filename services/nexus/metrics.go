// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nexus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chatTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "chat_turns_total",
			Help:      "Chat turns handled, by resolved intent kind.",
		},
		[]string{"intent"},
	)

	proposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "proposals_total",
			Help:      "Proposal lifecycle events.",
		},
		[]string{"event"},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nexus",
			Name:      "decisions_total",
			Help:      "Approval decisions, by decision value.",
		},
		[]string{"decision"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "nexus",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of approved-plan execution, by tool and outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool", "status"},
	)
)
