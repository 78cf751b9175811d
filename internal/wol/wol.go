// Package wol wakes TVs over the network. VIDAA sets honor standard
// Wake-on-LAN magic packets when "Wake on LAN" or "Fast start" is
// enabled in the TV's settings.
package wol

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"vidaa-home/internal/credentials"
)

// Both common WoL ports; some firmware only listens on one.
var wolPorts = []int{9, 7}

// MagicPacket builds the 102-byte wake frame: six 0xFF bytes followed
// by sixteen repetitions of the target MAC. Colon, dash, and flat
// 12-hex MAC forms are accepted.
func MagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(credentials.NormalizeMAC(mac))
	if err != nil {
		return nil, fmt.Errorf("invalid mac %q: %w", mac, err)
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("invalid mac %q: need a 48-bit address", mac)
	}

	packet := make([]byte, 0, 6+16*len(hw))
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xff)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}
	return packet, nil
}

// Send delivers one magic packet to the given broadcast (or unicast)
// address and port.
func Send(mac, addr string, port int) error {
	packet, err := MagicPacket(mac)
	if err != nil {
		return err
	}

	conn, err := net.Dial("udp4", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("wol dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("wol send %s: %w", addr, err)
	}
	return nil
}

// Wake sends magic packets to the global broadcast address, and to the
// subnet broadcast when subnet is given as the first three octets
// ("192.168.1"). Every address/port combination is tried; Wake fails
// only when no packet went out at all.
func Wake(mac, subnet string) error {
	broadcasts := []string{"255.255.255.255"}
	if subnet != "" {
		broadcasts = append(broadcasts, subnet+".255")
	}

	var sent int
	var lastErr error
	for _, bcast := range broadcasts {
		for _, port := range wolPorts {
			if err := Send(mac, bcast, port); err != nil {
				lastErr = err
				continue
			}
			sent++
		}
	}
	if sent == 0 {
		return lastErr
	}
	return nil
}

// MACFromIP resolves a LAN neighbor's MAC through the kernel ARP
// table. A throwaway datagram nudges the kernel into resolving the
// entry first. Only works for hosts on the local segment, and only on
// Linux.
func MACFromIP(ip string) (string, bool) {
	if conn, err := net.Dial("udp4", net.JoinHostPort(ip, "9")); err == nil {
		conn.Write([]byte{0})
		conn.Close()
		time.Sleep(300 * time.Millisecond)
	}

	data, err := os.ReadFile("/proc/net/arp")
	if err != nil {
		return "", false
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 {
		return "", false
	}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		mac := fields[3]
		if mac == "00:00:00:00:00:00" {
			continue
		}
		if _, err := net.ParseMAC(mac); err != nil {
			continue
		}
		return strings.ToLower(mac), true
	}
	return "", false
}
