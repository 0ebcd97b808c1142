// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"fmt"
	"net/netip"

	"github.com/oschwald/maxminddb-golang/v2"
)

// Location is where a client IP is registered.
type Location struct {
	Country   string
	Latitude  float64
	Longitude float64
}

// Unknown is reported when an IP cannot be located.
var Unknown = Location{Country: "unknown"}

// Geo locates client IPs.
type Geo interface {
	Lookup(ip netip.Addr) (Location, error)
}

// NoGeo locates nothing.
type NoGeo struct{}

var _ Geo = NoGeo{}

// Lookup implements Geo.
func (NoGeo) Lookup(netip.Addr) (Location, error) {
	return Unknown, nil
}

// MaxMind looks IPs up in a GeoLite2 or GeoIP2 City or Country database.
type MaxMind struct {
	db *maxminddb.Reader
}

var _ Geo = (*MaxMind)(nil)

type record struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// OpenMaxMind opens the database at path.
func OpenMaxMind(path string) (*MaxMind, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database %s: %w", path, err)
	}
	return &MaxMind{db: db}, nil
}

// Lookup implements Geo. IPs missing from the database are Unknown.
func (m *MaxMind) Lookup(ip netip.Addr) (Location, error) {
	var r record
	if err := m.db.Lookup(ip.Unmap()).Decode(&r); err != nil {
		return Unknown, err
	}
	if r.Country.ISOCode == "" {
		return Unknown, nil
	}
	return Location{
		Country:   r.Country.ISOCode,
		Latitude:  r.Location.Latitude,
		Longitude: r.Location.Longitude,
	}, nil
}

// Close releases the database.
func (m *MaxMind) Close() error {
	return m.db.Close()
}
