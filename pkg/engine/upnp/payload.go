// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package upnp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrNoAddress is returned by LocalIPv4 when no interface has an IPv4 address.
var ErrNoAddress = errors.New("no IPv4 address on a non-loopback interface")

// DescriptionPath is the device description advertised in SSDP replies.
const DescriptionPath = "/hue-device.xml"

// ResponseHeader opens the chunked description response. The trailer is
// announced but never sent.
const ResponseHeader = "HTTP/1.1 200 OK\r\n" +
	"Transfer-Encoding: chunked\r\n" +
	"Trailer: X-Checksum\r\n" +
	"\r\n"

// DeviceDescription is the first chunk. It leaves the service list open.
const DeviceDescription = "<?xml version=\"1.0\"?>\n" +
	"<root xmlns=\"urn:Philips:device-1-0\">\n" +
	"  <specVersion>\n" +
	"    <major>1</major>\n" +
	"    <minor>0</minor>\n" +
	"  </specVersion>\n" +
	"  <device>\n" +
	"    <deviceType>urn:Philips:device:insight:1</deviceType>\n" +
	"    <friendlyName>Philips Hue Smart Bulb</friendlyName>\n" +
	"      <manufacturer>Philips</manufacturer>\n" +
	"      <manufacturerURL>https://www.philips-hue.com</manufacturerURL>\n" +
	"      <modelDescription>Philips Hue A19 White and Color Ambiance</modelDescription>\n" +
	"      <modelName>Hue A19</modelName>\n" +
	"      <modelNumber>9290012573A</modelNumber>\n" +
	"      <modelURL>https://www.philips-hue.com/en-us/p/hue-white-and-color-ambiance-a19</modelURL>\n" +
	"    <serialNumber>PHL-00256739</serialNumber>\n" +
	"    <UDN>uuid:31c79c6d-7d92-4bbf-bf72-5b68591e1731</UDN>\n" +
	"      <UPC>123456789</UPC>\n" +
	"    <macAddress>149182B3A4D0</macAddress>" +
	"    <firmwareVersion>Philips_Hue_2.00.10966.PVT-OWRT-InsightV2</firmwareVersion>\n" +
	"    <iconVersion>1|49153</iconVersion>\n" +
	"    <binaryState>8</binaryState>\n" +
	"        <iconList>\n" +
	"    <icon>\n" +
	"      <mimetype>jpg</mimetype>\n" +
	"      <width>100</width>\n" +
	"      <height>100</height>\n" +
	"      <depth>100</depth>\n" +
	"        <url>icon.jpg</url>\n" +
	"      </icon>\n" +
	"    </iconList>\n" +
	"    <serviceList>\n"

// ServiceBlock is dripped, one chunk per tick, forever.
const ServiceBlock = "      <service>\n" +
	"        <serviceType>urn:Philips:service:SwitchPower:1</serviceType>\n" +
	"        <serviceId>urn:upnp-org:serviceId:SwitchPower</serviceId>\n" +
	"        <controlURL>/hue_control</controlURL>\n" +
	"        <eventSubURL>/hue_event</eventSubURL>\n" +
	"        <SCPDURL>/hue_service.xml</SCPDURL>\n" +
	"      </service>\n"

// Chunk frames data as one HTTP/1.1 chunk.
func Chunk(data string) []byte {
	return fmt.Appendf(nil, "%X\r\n%s\r\n", len(data), data)
}

// SSDPResponse builds the discovery reply pointing at the description served
// on host:port.
func SSDPResponse(host string, port int) []byte {
	return fmt.Appendf(nil, "HTTP/1.1 200 OK\r\n"+
		"CACHE-CONTROL: max-age=1800\r\n"+
		"EXT:\r\n"+
		"LOCATION: http://%s%s\r\n"+
		"SERVER: Linux/3.14 UPnP/1.0 PhilipsHue/2.1\r\n"+
		"ST: urn:Philips:device:Basic:1\r\n"+
		"USN: uuid:bd752e88-91a9-49e4-8297-8433e05d1c22::urn:Philips:device:Basic:1\r\n"+
		"BOOTID.UPNP.ORG: 1\r\n"+
		"CONFIGID.UPNP.ORG: 1337\r\n"+
		"\r\n", net.JoinHostPort(host, strconv.Itoa(port)), DescriptionPath)
}

// LocalIPv4 returns the first IPv4 address of a non-loopback interface that
// is up.
func LocalIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					return ip4.String(), nil
				}
			}
		}
	}
	return "", ErrNoAddress
}
