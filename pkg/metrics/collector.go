// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"log/slog"
	"net/netip"
	"strconv"
	"strings"

	"github.com/absmach/eventhorizon/pkg/events"
)

// Collector turns event lines into metric updates.
type Collector struct {
	metrics *Metrics
	geo     Geo
	logger  *slog.Logger
}

// NewCollector creates a Collector. A nil geo locates every client as Unknown.
func NewCollector(m *Metrics, geo Geo, logger *slog.Logger) *Collector {
	if geo == nil {
		geo = NoGeo{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{metrics: m, geo: geo, logger: logger}
}

// Handle applies one event line. Lines with too few fields, unknown kinds or
// bad numbers only bump the malformed counter.
func (c *Collector) Handle(line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		c.malformed(line)
		return
	}
	server, kind, args := fields[0], fields[1], fields[2:]

	m := c.metrics
	switch kind {
	case events.KindConnect:
		if len(args) < 1 {
			c.malformed(line)
			return
		}
		loc := c.locate(args[0])
		m.TotalConnects.WithLabelValues(server).Inc()
		m.ActiveClients.WithLabelValues(server).Inc()
		m.Clients.WithLabelValues(server, loc.Country,
			strconv.FormatFloat(loc.Latitude, 'f', 6, 64),
			strconv.FormatFloat(loc.Longitude, 'f', 6, 64)).Inc()

	case events.KindDisconnect:
		if len(args) < 2 {
			c.malformed(line)
			return
		}
		ms, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			c.malformed(line)
			return
		}
		m.ActiveClients.WithLabelValues(server).Dec()
		m.TotalTrappedTime.WithLabelValues(server).Add(float64(ms))

	case events.KindOtherHTTPRequests:
		if len(args) < 2 {
			c.malformed(line)
			return
		}
		m.UPnPOtherHTTPRequests.WithLabelValues(args[0], args[1]).Inc()

	case events.KindMSearch:
		if len(args) < 1 {
			c.malformed(line)
			return
		}
		m.UPnPMSearchRequests.WithLabelValues(args[0]).Inc()

	case events.KindNonMSearch:
		if len(args) < 1 {
			c.malformed(line)
			return
		}
		m.UPnPNonMSearchRequests.WithLabelValues(args[0]).Inc()

	case events.KindConnectVersion:
		if len(args) < 1 {
			c.malformed(line)
			return
		}
		m.MQTTConnectVersions.WithLabelValues(args[0]).Inc()

	case events.KindMalformedConnect:
		m.MQTTMalformedConnects.Inc()

	case events.KindCredentials:
		if len(args) < 2 {
			c.malformed(line)
			return
		}
		m.MQTTCredentials.WithLabelValues(args[0], args[1]).Inc()

	case events.KindSubscribe:
		if len(args) < 2 {
			c.malformed(line)
			return
		}
		m.MQTTSubscribeTopics.WithLabelValues(args[0], args[1]).Inc()

	case events.KindPublish:
		if len(args) < 2 {
			c.malformed(line)
			return
		}
		m.MQTTPublishTopics.WithLabelValues(args[0], args[1]).Inc()

	case events.KindConnack:
		m.MQTTConnacks.Inc()

	case events.KindUnsubscribe:
		m.MQTTUnsubscribes.Inc()

	case events.KindPubrec:
		m.MQTTPubrecs.Inc()

	default:
		c.malformed(line)
	}
}

func (c *Collector) locate(ip string) Location {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Unknown
	}
	loc, err := c.geo.Lookup(addr)
	if err != nil {
		c.logger.Debug("geo lookup failed",
			slog.String("ip", ip),
			slog.String("error", err.Error()))
		return Unknown
	}
	return loc
}

func (c *Collector) malformed(line string) {
	c.metrics.MalformedLines.Inc()
	c.logger.Debug("malformed event line", slog.String("line", line))
}
