package discovery

import (
	"context"
	"net"
	"strings"
	"time"

	"golang.org/x/net/ipv4"
)

const (
	ssdpPort        = 1900
	ssdpReadSize    = 4096
	ssdpReadTimeout = time.Second
)

var ssdpGroup = net.IPv4(239, 255, 255, 250)

const ssdpMSearch = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"MX: 3\r\n" +
	"ST: %s\r\n" +
	"\r\n"

// The TVs answer the MediaRenderer target; ssdp:all catches firmware
// that only responds to the wildcard.
var ssdpSearchTargets = []string{
	"urn:schemas-upnp-org:device:MediaRenderer:1",
	"ssdp:all",
}

// SSDPSearch multicasts M-SEARCH queries and collects the unique
// responders seen within timeout. Responses from our own addresses and
// anything that is not an HTTP response are dropped. The result is a
// candidate list; Probe tells TVs apart from other UPnP renderers.
func (s *Scanner) SSDPSearch(ctx context.Context, timeout time.Duration) map[string]Device {
	found := make(map[string]Device)
	local := localAddrs()

	conn, err := net.ListenPacket("udp4", net.JoinHostPort(s.iface, "0"))
	if err != nil {
		s.logger.Warn("ssdp socket bind failed", "err", err)
		return found
	}
	defer conn.Close()

	p := ipv4.NewPacketConn(conn)
	p.SetMulticastTTL(2)
	if s.iface != "" {
		if ifi := interfaceByIP(s.iface); ifi != nil {
			p.SetMulticastInterface(ifi)
		}
	}

	dst := &net.UDPAddr{IP: ssdpGroup, Port: ssdpPort}
	for _, st := range ssdpSearchTargets {
		msg := []byte(strings.Replace(ssdpMSearch, "%s", st, 1))
		if _, err := conn.WriteTo(msg, dst); err != nil {
			s.logger.Warn("m-search send failed", "target", st, "err", err)
		}
	}

	s.collect(ctx, conn, timeout, "HTTP", SourceSSDPSearch, local, found)
	s.logger.Debug("ssdp search complete", "devices", len(found))
	return found
}

// SSDPListen joins the SSDP multicast group and passively collects
// NOTIFY announcements until timeout. Binding port 1900 fails when
// another SSDP daemon owns it; that is reported as an empty result.
func (s *Scanner) SSDPListen(ctx context.Context, timeout time.Duration) map[string]Device {
	found := make(map[string]Device)
	local := localAddrs()

	conn, err := net.ListenPacket("udp4", net.JoinHostPort("", "1900"))
	if err != nil {
		s.logger.Warn("ssdp listen bind failed", "err", err)
		return found
	}
	defer conn.Close()

	var ifi *net.Interface
	if s.iface != "" {
		ifi = interfaceByIP(s.iface)
	}
	p := ipv4.NewPacketConn(conn)
	group := &net.UDPAddr{IP: ssdpGroup}
	if err := p.JoinGroup(ifi, group); err != nil {
		s.logger.Warn("multicast join failed", "err", err)
		return found
	}
	defer p.LeaveGroup(ifi, group)

	s.collect(ctx, conn, timeout, "NOTIFY", SourceSSDPNotify, local, found)
	s.logger.Debug("ssdp listen complete", "devices", len(found))
	return found
}

// collect reads SSDP datagrams until the deadline, keeping the first
// message per sender whose first line matches prefix.
func (s *Scanner) collect(ctx context.Context, conn net.PacketConn, timeout time.Duration, prefix, source string, local map[string]bool, found map[string]Device) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, ssdpReadSize)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(ssdpReadTimeout))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.logger.Debug("ssdp read failed", "err", err)
			return
		}

		ip, _, err := net.SplitHostPort(addr.String())
		if err != nil || local[ip] {
			continue
		}
		msg := string(buf[:n])
		if !strings.HasPrefix(msg, prefix) {
			continue
		}
		if _, seen := found[ip]; seen {
			continue
		}

		headers := parseSSDPHeaders(msg)
		found[ip] = Device{
			IP:       ip,
			Port:     defaultTVPort,
			Location: headers["LOCATION"],
			USN:      headers["USN"],
			Server:   headers["SERVER"],
			Source:   source,
			Raw:      headers,
		}
		s.logger.Info("device found", "ip", ip, "source", source)
	}
}

// parseSSDPHeaders splits an SSDP message into upper-cased header
// key/value pairs. The start line has no colon and is skipped.
func parseSSDPHeaders(message string) map[string]string {
	headers := make(map[string]string)
	for _, line := range strings.Split(message, "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return headers
}
