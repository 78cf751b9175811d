package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// discoveryPort is the vendor discovery port the TVs answer on.
const discoveryPort = 36671

const defaultBroadcastRetries = 3

// Payload variants observed across firmware revisions; every round
// sends all of them.
var discoveryPayloads = [][]byte{
	[]byte(`{"request": "discover"}`),
	[]byte(`{"request": "discover", "device": "phone", "version": "1.0"}`),
	[]byte("HiSmart:discover"),
	[]byte("{}"),
}

// UDPBroadcast sends the vendor discovery payloads to the broadcast
// address over retries rounds, listening between rounds. Replies are
// parsed as JSON when possible and kept raw otherwise. The TVs prefer
// answering to source port 36671; an occupied port falls back to an
// ephemeral one, which some firmware still answers.
func (s *Scanner) UDPBroadcast(ctx context.Context, timeout time.Duration, retries int) map[string]Device {
	found := make(map[string]Device)
	local := localAddrs()
	if retries <= 0 {
		retries = 1
	}

	conn, err := net.ListenPacket("udp4", net.JoinHostPort(s.iface, fmt.Sprint(discoveryPort)))
	if err != nil {
		conn, err = net.ListenPacket("udp4", net.JoinHostPort(s.iface, "0"))
		if err != nil {
			s.logger.Warn("udp socket bind failed", "err", err)
			return found
		}
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: discoveryPort}
	window := timeout / time.Duration(retries)
	buf := make([]byte, 4096)

	for round := 0; round < retries; round++ {
		if ctx.Err() != nil {
			break
		}
		for _, payload := range discoveryPayloads {
			if _, err := conn.WriteTo(payload, dst); err != nil {
				s.logger.Debug("broadcast send failed", "err", err)
			}
		}
		s.logger.Debug("discovery packets sent", "round", round+1, "rounds", retries)

		windowEnd := time.Now().Add(window)
		conn.SetReadDeadline(windowEnd)
		for time.Now().Before(windowEnd) {
			if ctx.Err() != nil {
				break
			}
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				break
			}
			ip, _, err := net.SplitHostPort(addr.String())
			if err != nil || local[ip] {
				continue
			}
			if _, seen := found[ip]; seen {
				continue
			}
			found[ip] = deviceFromUDPReply(ip, buf[:n])
			s.logger.Info("device found", "ip", ip, "source", SourceUDP)
		}
	}

	s.logger.Debug("udp broadcast complete", "devices", len(found))
	return found
}

// deviceFromUDPReply parses one discovery reply. Firmware revisions
// disagree on field names, so each attribute tries several keys.
func deviceFromUDPReply(ip string, data []byte) Device {
	dev := Device{IP: ip, Port: defaultTVPort, Source: SourceUDP}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		dev.Raw = map[string]string{"raw": string(data)}
		return dev
	}

	raw := make(map[string]string, len(fields))
	for k, v := range fields {
		raw[k] = fmt.Sprint(v)
	}
	dev.Raw = raw
	dev.Name = firstString(fields, "devicename", "name", "device_name")
	dev.Model = firstString(fields, "model", "model_name")
	dev.MAC = firstString(fields, "mac", "macaddress")
	return dev
}

func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
