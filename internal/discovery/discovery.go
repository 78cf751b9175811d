// Package discovery finds VIDAA TVs on the local network. Three
// methods are available: active SSDP M-SEARCH, a passive SSDP NOTIFY
// listener, and a vendor UDP broadcast. A unicast descriptor probe
// confirms whether any candidate is actually a compatible TV.
package discovery

import (
	"context"
	"log/slog"
	"net"
	"slices"
	"time"
)

// Discovery sources, recorded on each result.
const (
	SourceSSDPSearch = "ssdp_msearch"
	SourceSSDPNotify = "ssdp_notify"
	SourceUDP        = "udp"
	SourceProbe      = "probe"
)

// Method names accepted by Scan.
const (
	MethodSSDP       = "ssdp"
	MethodSSDPListen = "ssdp_listen"
	MethodUDP        = "udp"
)

// defaultTVPort is the control port assumed for every discovered
// device; discovery never verifies it.
const defaultTVPort = 36669

// Device is one discovery result. Everything beyond IP is best-effort:
// SSDP supplies location headers, the UDP reply and the descriptor
// probe supply name/model/MAC when the firmware includes them.
type Device struct {
	IP              string            `json:"ip"`
	Port            int               `json:"port"`
	Name            string            `json:"name,omitempty"`
	Model           string            `json:"model,omitempty"`
	MAC             string            `json:"mac,omitempty"`
	ProtocolVersion string            `json:"protocol_version,omitempty"`
	Location        string            `json:"location,omitempty"`
	USN             string            `json:"usn,omitempty"`
	Server          string            `json:"server,omitempty"`
	Source          string            `json:"source"`
	Raw             map[string]string `json:"raw,omitempty"`
}

// Scanner runs discovery rounds. The zero value works; Interface
// restricts multicast and broadcast traffic to one local address.
type Scanner struct {
	iface  string
	logger *slog.Logger
}

// NewScanner returns a scanner bound to the given local interface IP,
// or to all interfaces when iface is empty.
func NewScanner(iface string, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		iface:  iface,
		logger: logger.With("component", "discovery"),
	}
}

// Scan runs the selected methods and merges their results by IP,
// first writer wins. An empty method list runs the active methods
// (SSDP search and UDP broadcast). Methods always run in the fixed
// order search, listen, broadcast so active results take precedence.
func (s *Scanner) Scan(ctx context.Context, methods []string, timeout time.Duration) map[string]Device {
	if len(methods) == 0 {
		methods = []string{MethodSSDP, MethodUDP}
	}

	found := make(map[string]Device)
	if slices.Contains(methods, MethodSSDP) {
		mergeDevices(found, s.SSDPSearch(ctx, timeout))
	}
	if slices.Contains(methods, MethodSSDPListen) {
		mergeDevices(found, s.SSDPListen(ctx, timeout))
	}
	if slices.Contains(methods, MethodUDP) {
		mergeDevices(found, s.UDPBroadcast(ctx, timeout, defaultBroadcastRetries))
	}

	s.logger.Info("discovery complete", "devices", len(found), "methods", methods)
	return found
}

// mergeDevices copies src entries into dst unless the IP is already
// present.
func mergeDevices(dst, src map[string]Device) {
	for ip, dev := range src {
		if _, ok := dst[ip]; !ok {
			dst[ip] = dev
		}
	}
}

// localAddrs returns every local IPv4 address, used to drop our own
// broadcast echoes.
func localAddrs() map[string]bool {
	ips := map[string]bool{"127.0.0.1": true}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ips
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
			ips[ipnet.IP.String()] = true
		}
	}
	return ips
}

// interfaceByIP maps a local address back to its interface, for
// multicast group operations.
func interfaceByIP(ip string) *net.Interface {
	target := net.ParseIP(ip)
	if target == nil {
		return nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.Equal(target) {
				return &ifaces[i]
			}
		}
	}
	return nil
}
