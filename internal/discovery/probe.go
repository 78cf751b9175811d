package discovery

import (
	"context"
	"time"

	"vidaa-home/internal/credentials"
	"vidaa-home/internal/protocol"
)

// Probe fetches the device descriptor from one address and returns a
// device record only when the descriptor's vidaa_support field equals
// "1". That flag is the one reliable discriminator between compatible
// TVs and arbitrary UPnP renderers, so a descriptor without it yields
// nothing even when everything else parses. port 0 selects the
// standard descriptor port.
func (s *Scanner) Probe(ctx context.Context, ip string, port int, timeout time.Duration) (Device, bool) {
	if port == 0 {
		port = protocol.DefaultPort
	}

	desc, err := protocol.FetchDescriptor(ctx, ip, port, timeout)
	if err != nil {
		s.logger.Debug("probe failed", "ip", ip, "err", err)
		return Device{}, false
	}

	if support := desc.Fields["vidaa_support"]; support != "1" {
		s.logger.Debug("not a vidaa device", "ip", ip, "vidaa_support", support)
		return Device{}, false
	}

	mac := desc.Fields["mac"]
	if mac == "" {
		mac = desc.Fields["macEthernet"]
	}
	if mac == "" {
		mac = desc.Fields["macWifi"]
	}
	mac = credentials.NormalizeMAC(mac)

	dev := Device{
		IP:              ip,
		Port:            defaultTVPort,
		Name:            desc.FriendlyName,
		Model:           desc.ModelName,
		MAC:             mac,
		ProtocolVersion: desc.Fields["transport_protocol"],
		Source:          SourceProbe,
		Raw:             desc.Fields,
	}
	s.logger.Info("vidaa tv found", "ip", ip, "name", dev.Name, "mac", dev.MAC)
	return dev, true
}
