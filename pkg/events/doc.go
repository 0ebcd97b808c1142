// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events defines the observations the decoys report and the Sink they
// report them to.
//
// Every event renders as one text line:
//
//	<server> <kind> <arg>...\n
//
// for example "MQTT SUBSCRIBE home/# 1\n" or "CoAP disconnect 198.51.100.7 30000\n".
// The collector splits lines on single spaces, so arguments coming from the
// network are passed through Sanitize first.
package events
