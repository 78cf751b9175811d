package discovery

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func testScanner() *Scanner {
	return NewScanner("", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParseSSDPHeadersResponse(t *testing.T) {
	msg := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=1800\r\n" +
		"LOCATION: http://192.168.1.50:38400/MediaServer/rendererdevicedesc.xml\r\n" +
		"Server: Linux/4.9 UPnP/1.0 Hisense UPnP SDK\r\n" +
		"ST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
		"USN: uuid:0011-2233::urn:schemas-upnp-org:device:MediaRenderer:1\r\n" +
		"\r\n"

	headers := parseSSDPHeaders(msg)

	if got := headers["LOCATION"]; got != "http://192.168.1.50:38400/MediaServer/rendererdevicedesc.xml" {
		t.Errorf("LOCATION = %q", got)
	}
	// Keys are upper-cased regardless of wire casing.
	if got := headers["SERVER"]; got != "Linux/4.9 UPnP/1.0 Hisense UPnP SDK" {
		t.Errorf("SERVER = %q", got)
	}
	if _, ok := headers["HTTP/1.1 200 OK"]; ok {
		t.Error("status line parsed as a header")
	}
}

func TestParseSSDPHeadersNotify(t *testing.T) {
	msg := "NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"NT: upnp:rootdevice\r\n" +
		"NTS: ssdp:alive\r\n" +
		"\r\n"

	headers := parseSSDPHeaders(msg)
	if got := headers["NTS"]; got != "ssdp:alive" {
		t.Errorf("NTS = %q", got)
	}
	// The value keeps everything after the first colon.
	if got := headers["HOST"]; got != "239.255.255.250:1900" {
		t.Errorf("HOST = %q", got)
	}
}

func TestMSearchTemplate(t *testing.T) {
	msg := strings.Replace(ssdpMSearch, "%s", ssdpSearchTargets[0], 1)

	if !strings.HasPrefix(msg, "M-SEARCH * HTTP/1.1\r\n") {
		t.Error("missing request line")
	}
	if !strings.Contains(msg, "MAN: \"ssdp:discover\"\r\n") {
		t.Error("missing quoted MAN header")
	}
	if !strings.Contains(msg, "MX: 3\r\n") {
		t.Error("missing MX header")
	}
	if !strings.Contains(msg, "ST: urn:schemas-upnp-org:device:MediaRenderer:1\r\n") {
		t.Error("search target not substituted")
	}
	if !strings.HasSuffix(msg, "\r\n\r\n") {
		t.Error("missing terminating blank line")
	}
}

func TestDeviceFromUDPReply(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Device
	}{
		{
			"primary keys",
			`{"devicename":"Living Room TV","model":"55A7GQ","mac":"56:b8:88:4e:f7:19"}`,
			Device{Name: "Living Room TV", Model: "55A7GQ", MAC: "56:b8:88:4e:f7:19"},
		},
		{
			"alternate keys",
			`{"device_name":"Bedroom","model_name":"43A6K","macaddress":"aa:bb:cc:dd:ee:ff"}`,
			Device{Name: "Bedroom", Model: "43A6K", MAC: "aa:bb:cc:dd:ee:ff"},
		},
		{
			"devicename wins over name",
			`{"devicename":"First","name":"Second"}`,
			Device{Name: "First"},
		},
		{
			"non-json reply",
			"HiSmart:ack",
			Device{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deviceFromUDPReply("192.168.1.50", []byte(tt.data))

			if got.IP != "192.168.1.50" || got.Port != 36669 || got.Source != SourceUDP {
				t.Errorf("identity fields = %s:%d %s", got.IP, got.Port, got.Source)
			}
			if got.Name != tt.want.Name {
				t.Errorf("name = %q, want %q", got.Name, tt.want.Name)
			}
			if got.Model != tt.want.Model {
				t.Errorf("model = %q, want %q", got.Model, tt.want.Model)
			}
			if got.MAC != tt.want.MAC {
				t.Errorf("mac = %q, want %q", got.MAC, tt.want.MAC)
			}
		})
	}
}

func TestDeviceFromUDPReplyKeepsRaw(t *testing.T) {
	got := deviceFromUDPReply("10.0.0.9", []byte("not json at all"))
	if got.Raw["raw"] != "not json at all" {
		t.Errorf("raw = %q", got.Raw["raw"])
	}

	got = deviceFromUDPReply("10.0.0.9", []byte(`{"devicename":"TV","httpport":36669}`))
	if got.Raw["httpport"] != "36669" {
		t.Errorf("numeric raw field = %q, want 36669", got.Raw["httpport"])
	}
}

func TestMergeDevicesFirstWins(t *testing.T) {
	dst := map[string]Device{
		"192.168.1.50": {IP: "192.168.1.50", Source: SourceSSDPSearch, Name: "From SSDP"},
	}
	mergeDevices(dst, map[string]Device{
		"192.168.1.50": {IP: "192.168.1.50", Source: SourceUDP, Name: "From UDP"},
		"192.168.1.60": {IP: "192.168.1.60", Source: SourceUDP},
	})

	if len(dst) != 2 {
		t.Fatalf("merged size = %d, want 2", len(dst))
	}
	if dst["192.168.1.50"].Source != SourceSSDPSearch {
		t.Error("later method overwrote an existing entry")
	}
	if dst["192.168.1.60"].Source != SourceUDP {
		t.Error("new entry missing")
	}
}

func serveDescriptor(t *testing.T, body string) (string, int) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split server addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return host, port
}

const vidaaDescriptor = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <friendlyName>Living Room TV</friendlyName>
    <modelName>Renderer</modelName>
    <modelDescription>vidaa_support=1
transport_protocol=3290
macEthernet=56b8884ef719
macWifi=56b8884ef71a</modelDescription>
  </device>
</root>`

const plainRendererDescriptor = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <friendlyName>Some Speaker</friendlyName>
    <modelName>SoundBridge</modelName>
    <modelDescription>version=2.1</modelDescription>
  </device>
</root>`

func TestProbeVidaaDevice(t *testing.T) {
	host, port := serveDescriptor(t, vidaaDescriptor)

	dev, ok := testScanner().Probe(context.Background(), host, port, 2*time.Second)
	if !ok {
		t.Fatal("probe rejected a vidaa descriptor")
	}
	if dev.Name != "Living Room TV" {
		t.Errorf("name = %q", dev.Name)
	}
	// Generic "Renderer" is noise, not a model name.
	if dev.Model != "" {
		t.Errorf("model = %q, want empty", dev.Model)
	}
	// No plain mac field: ethernet preferred over wifi, flat form
	// normalized to colons.
	if dev.MAC != "56:b8:88:4e:f7:19" {
		t.Errorf("mac = %q, want 56:b8:88:4e:f7:19", dev.MAC)
	}
	if dev.ProtocolVersion != "3290" {
		t.Errorf("protocol version = %q, want 3290", dev.ProtocolVersion)
	}
	if dev.Port != 36669 {
		t.Errorf("port = %d, want the control port", dev.Port)
	}
	if dev.Source != SourceProbe {
		t.Errorf("source = %q", dev.Source)
	}
}

func TestProbeRejectsNonVidaaRenderer(t *testing.T) {
	host, port := serveDescriptor(t, plainRendererDescriptor)

	if _, ok := testScanner().Probe(context.Background(), host, port, 2*time.Second); ok {
		t.Fatal("probe accepted a renderer without vidaa_support=1")
	}
}

func TestProbeUnreachable(t *testing.T) {
	if _, ok := testScanner().Probe(context.Background(), "127.0.0.1", 1, 200*time.Millisecond); ok {
		t.Fatal("probe against a closed port succeeded")
	}
}
