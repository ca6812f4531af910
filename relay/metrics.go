// metrics.go - Relay prometheus metrics.
// Copyright (C) 2026  The taper authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taper_relay_active_connections",
			Help: "Number of connected clients",
		},
	)
	activeRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taper_relay_active_rooms",
			Help: "Number of active rooms",
		},
	)
	routedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taper_relay_routed_messages_total",
			Help: "Number of messages routed between peers",
		},
	)
	routedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "taper_relay_routed_bytes_total",
			Help: "Number of message bytes routed between peers",
		},
	)

	metricsOnce sync.Once
)

// registerMetrics registers the relay collectors with the default
// prometheus registry.  Registration is process wide, so it happens at
// most once no matter how many servers are constructed.
func registerMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(activeConnections)
		prometheus.MustRegister(activeRooms)
		prometheus.MustRegister(routedMessages)
		prometheus.MustRegister(routedBytes)
	})
}
