package wol

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestMagicPacket(t *testing.T) {
	packet, err := MagicPacket("56:b8:88:4e:f7:19")
	if err != nil {
		t.Fatalf("MagicPacket: %v", err)
	}
	if len(packet) != 102 {
		t.Fatalf("packet length = %d, want 102", len(packet))
	}

	for i := 0; i < 6; i++ {
		if packet[i] != 0xff {
			t.Fatalf("preamble byte %d = %#x, want 0xff", i, packet[i])
		}
	}

	mac := []byte{0x56, 0xb8, 0x88, 0x4e, 0xf7, 0x19}
	for rep := 0; rep < 16; rep++ {
		start := 6 + rep*6
		if !bytes.Equal(packet[start:start+6], mac) {
			t.Fatalf("repetition %d = % x, want % x", rep, packet[start:start+6], mac)
		}
	}
}

func TestMagicPacketAcceptsMACForms(t *testing.T) {
	want, err := MagicPacket("56:b8:88:4e:f7:19")
	if err != nil {
		t.Fatalf("MagicPacket: %v", err)
	}
	for _, form := range []string{"56-b8-88-4e-f7-19", "56b8884ef719"} {
		got, err := MagicPacket(form)
		if err != nil {
			t.Errorf("MagicPacket(%q): %v", form, err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("MagicPacket(%q) differs from colon form", form)
		}
	}
}

func TestMagicPacketRejectsInvalid(t *testing.T) {
	for _, mac := range []string{"", "not-a-mac", "56:b8:88:4e:f7", "zz:zz:zz:zz:zz:zz"} {
		if _, err := MagicPacket(mac); err == nil {
			t.Errorf("MagicPacket(%q) accepted", mac)
		}
	}
}

func TestSendDeliversPacket(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()
	_, portStr, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	if err := Send("56:b8:88:4e:f7:19", "127.0.0.1", port); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want, _ := MagicPacket("56:b8:88:4e:f7:19")
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("received %d bytes, not the magic packet", n)
	}
}
