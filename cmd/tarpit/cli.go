// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/absmach/eventhorizon"
	ehcoap "github.com/absmach/eventhorizon/pkg/engine/coap"
	"gopkg.in/alecthomas/kingpin.v2"
)

const (
	cmdCoAP   = "coap"
	cmdMQTT   = "mqtt"
	cmdTelnet = "telnet"
	cmdUPnP   = "upnp"
	cmdAll    = "all"
)

// parseArgs applies the command line on top of cfg and returns the selected
// command. Positional arguments default to the environment configuration.
// A single pit command disables every other pit.
func parseArgs(args []string, cfg *eventhorizon.Config) (string, error) {
	app := kingpin.New("tarpit", "IoT tarpit stalling CoAP, MQTT, Telnet and UPnP clients.")

	coap := app.Command(cmdCoAP, "Run the CoAP pit.")
	coapPort := coap.Arg("port", "UDP port.").Default(cfg.CoAP.Port).String()
	coapDelay := coap.Arg("delay-ms", "Delay between blocks in milliseconds.").Default(ms(cfg.CoAP.Delay)).Int()
	coapAck := coap.Arg("ack-timeout-ms", "Initial retransmission timeout in milliseconds.").Default(ms(cfg.CoAP.AckTimeout)).Int()
	coapRetransmit := coap.Arg("max-retransmit", "Retransmissions before a client is released.").Default(strconv.Itoa(cfg.CoAP.MaxRetransmit)).Int()
	coapClients := coap.Arg("max-clients", "Maximum trapped clients.").Default(strconv.Itoa(cfg.CoAP.MaxClients)).Int()

	mqtt := app.Command(cmdMQTT, "Run the MQTT pit.")
	mqttPort := mqtt.Arg("port", "TCP port.").Default(cfg.MQTT.Port).String()
	mqttEvents := mqtt.Arg("max-events", "Events handled per loop iteration.").Default(strconv.Itoa(cfg.MQTT.MaxEvents)).Int()
	mqttWait := mqtt.Arg("wait-timeout-ms", "Longest loop wait in milliseconds.").Default(ms(cfg.MQTT.WaitTimeout)).Int()
	mqttPubrel := mqtt.Arg("pubrel-interval-ms", "Interval between PUBREL probes in milliseconds.").Default(ms(cfg.MQTT.PubrelInterval)).Int()
	mqttPackets := mqtt.Arg("max-packets", "Packets handled per read.").Default(strconv.Itoa(cfg.MQTT.MaxPackets)).Int()
	mqttClients := mqtt.Arg("max-clients", "Maximum trapped clients.").Default(strconv.Itoa(cfg.MQTT.MaxClients)).Int()

	telnet := app.Command(cmdTelnet, "Run the Telnet pit.")
	telnetPort := telnet.Arg("port", "TCP port.").Default(cfg.Telnet.Port).String()
	telnetDelay := telnet.Arg("delay-ms", "Delay between negotiations in milliseconds.").Default(ms(cfg.Telnet.Delay)).Int()
	telnetClients := telnet.Arg("max-clients", "Maximum trapped clients.").Default(strconv.Itoa(cfg.Telnet.MaxClients)).Int()

	upnp := app.Command(cmdUPnP, "Run the UPnP pit.")
	upnpHTTP := upnp.Arg("http-port", "Description server TCP port.").Default(cfg.UPnP.HTTPPort).String()
	upnpSSDP := upnp.Arg("ssdp-port", "SSDP UDP port.").Default(cfg.UPnP.SSDPPort).String()
	upnpDelay := upnp.Arg("delay-ms", "Delay between chunks in milliseconds.").Default(ms(cfg.UPnP.Delay)).Int()
	upnpClients := upnp.Arg("max-clients", "Maximum trapped clients.").Default(strconv.Itoa(cfg.UPnP.MaxClients)).Int()

	app.Command(cmdAll, "Run every enabled pit.").Default()

	cmd, err := app.Parse(args)
	if err != nil {
		return "", err
	}

	switch cmd {
	case cmdCoAP:
		cfg.CoAP.Port = *coapPort
		cfg.CoAP.Delay = millis(*coapDelay)
		cfg.CoAP.AckTimeout = millis(*coapAck)
		cfg.CoAP.MaxRetransmit = *coapRetransmit
		cfg.CoAP.MaxClients = *coapClients
	case cmdMQTT:
		cfg.MQTT.Port = *mqttPort
		cfg.MQTT.MaxEvents = *mqttEvents
		cfg.MQTT.WaitTimeout = millis(*mqttWait)
		cfg.MQTT.PubrelInterval = millis(*mqttPubrel)
		cfg.MQTT.MaxPackets = *mqttPackets
		cfg.MQTT.MaxClients = *mqttClients
	case cmdTelnet:
		cfg.Telnet.Port = *telnetPort
		cfg.Telnet.Delay = millis(*telnetDelay)
		cfg.Telnet.MaxClients = *telnetClients
	case cmdUPnP:
		cfg.UPnP.HTTPPort = *upnpHTTP
		cfg.UPnP.SSDPPort = *upnpSSDP
		cfg.UPnP.Delay = millis(*upnpDelay)
		cfg.UPnP.MaxClients = *upnpClients
	}

	if n := cfg.CoAP.MaxRetransmit; n < 0 || n > ehcoap.MaxRetransmitLimit {
		return "", fmt.Errorf("max-retransmit %d out of range [0, %d]", n, ehcoap.MaxRetransmitLimit)
	}

	if cmd != cmdAll {
		cfg.CoAP.Enabled = cmd == cmdCoAP
		cfg.MQTT.Enabled = cmd == cmdMQTT
		cfg.Telnet.Enabled = cmd == cmdTelnet
		cfg.UPnP.Enabled = cmd == cmdUPnP
	}
	return cmd, nil
}

func ms(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
