// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics fed by tarpit events.
type Metrics struct {
	// Client metrics, labelled by server
	TotalConnects    *prometheus.CounterVec
	TotalTrappedTime *prometheus.CounterVec
	ActiveClients    *prometheus.GaugeVec
	Clients          *prometheus.CounterVec

	// UPnP metrics
	UPnPOtherHTTPRequests  *prometheus.CounterVec
	UPnPMSearchRequests    *prometheus.CounterVec
	UPnPNonMSearchRequests *prometheus.CounterVec

	// MQTT metrics
	MQTTMalformedConnects prometheus.Counter
	MQTTConnectVersions   *prometheus.CounterVec
	MQTTSubscribeTopics   *prometheus.CounterVec
	MQTTCredentials       *prometheus.CounterVec
	MQTTPublishTopics     *prometheus.CounterVec
	MQTTConnacks          prometheus.Counter
	MQTTUnsubscribes      prometheus.Counter
	MQTTPubrecs           prometheus.Counter

	// Collector metrics
	MalformedLines prometheus.Counter
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		TotalConnects: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "total_connects",
				Help: "Total client connections",
			},
			[]string{"server"},
		),
		TotalTrappedTime: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "total_trapped_time_ms",
				Help: "Total time clients were trapped in milliseconds",
			},
			[]string{"server"},
		),
		ActiveClients: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "current_connected_clients",
				Help: "Currently connected clients",
			},
			[]string{"server"},
		),
		Clients: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tarpitted_clients",
				Help: "Connected clients by origin",
			},
			[]string{"server", "country", "latitude", "longitude"},
		),
		UPnPOtherHTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upnp_other_http_requests",
				Help: "HTTP requests that are not for the device description",
			},
			[]string{"method", "url"},
		),
		UPnPMSearchRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upnp_m_search_requests",
				Help: "SSDP M-SEARCH requests",
			},
			[]string{"ip"},
		),
		UPnPNonMSearchRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "upnp_non_m_search_requests",
				Help: "SSDP datagrams that are not M-SEARCH",
			},
			[]string{"ip"},
		),
		MQTTMalformedConnects: f.NewCounter(
			prometheus.CounterOpts{
				Name: "mqtt_pit_malformed_connects",
				Help: "Refused MQTT CONNECT packets",
			},
		),
		MQTTConnectVersions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqtt_pit_connect_versions",
				Help: "MQTT CONNECT protocol versions",
			},
			[]string{"version"},
		),
		MQTTSubscribeTopics: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqtt_pit_subscribe_topics",
				Help: "MQTT SUBSCRIBE topic filters and QoS",
			},
			[]string{"topic", "qos"},
		),
		MQTTCredentials: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqtt_pit_credentials",
				Help: "MQTT credentials presented in CONNECT",
			},
			[]string{"username", "password"},
		),
		MQTTPublishTopics: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqtt_pit_publish_topics",
				Help: "MQTT PUBLISH topics and QoS",
			},
			[]string{"topic", "qos"},
		),
		MQTTConnacks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "mqtt_pit_connack_counter",
				Help: "CONNACK packets sent",
			},
		),
		MQTTUnsubscribes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "mqtt_pit_unsub_counter",
				Help: "UNSUBSCRIBE topic filters received",
			},
		),
		MQTTPubrecs: f.NewCounter(
			prometheus.CounterOpts{
				Name: "mqtt_pit_pubrec_counter",
				Help: "PUBREC packets received",
			},
		),
		MalformedLines: f.NewCounter(
			prometheus.CounterOpts{
				Name: "collector_malformed_lines_total",
				Help: "Event lines that could not be parsed",
			},
		),
	}
}
