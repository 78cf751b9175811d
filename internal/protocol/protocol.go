// Package protocol reads the transport protocol version a VIDAA TV
// advertises in its UPnP device descriptor and maps it to the matching
// credential generation.
package protocol

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vidaa-home/internal/credentials"
)

// DefaultPort is the HTTP port the descriptor is served on.
const DefaultPort = 38400

// Generation thresholds by transport protocol version. Boundaries are
// inferred from a limited firmware sample set; the connect fallback loop
// covers sets that fall outside them.
const (
	modernThreshold = 3290
	middleThreshold = 3000
)

const descriptorPath = "/MediaServer/rendererdevicedesc.xml"

var versionRe = regexp.MustCompile(`(?i)transport_protocol[=:]\s*(\d+)`)

// Descriptor holds the parts of the vendor device descriptor that matter
// for detection and discovery.
type Descriptor struct {
	FriendlyName string
	ModelName    string
	UDN          string

	// Fields is the vendor modelDescription block parsed as newline
	// separated key=value pairs (vidaa_support, mac, macWifi,
	// macEthernet, transport_protocol, ...).
	Fields map[string]string
}

// Detect fetches the descriptor from host:port and extracts the transport
// protocol version. The boolean is false when the device cannot be
// reached, the XML is malformed, or no version is present. Detection
// failure is never an error: callers fall back to the Modern default.
func Detect(ctx context.Context, host string, port int, timeout time.Duration) (int, bool) {
	body, err := fetch(ctx, host, port, timeout)
	if err != nil {
		return 0, false
	}
	return extractVersion(body)
}

// GenerationFor maps a detected protocol version to a credential
// generation. An unknown version maps to Modern.
func GenerationFor(version int, ok bool) credentials.Generation {
	switch {
	case !ok:
		return credentials.Modern
	case version >= modernThreshold:
		return credentials.Modern
	case version >= middleThreshold:
		return credentials.Middle
	default:
		return credentials.Legacy
	}
}

// FetchDescriptor retrieves and parses the device descriptor. Unlike
// Detect, callers that need the descriptive fields get the underlying
// error so they can distinguish unreachable hosts from non-TVs.
func FetchDescriptor(ctx context.Context, host string, port int, timeout time.Duration) (*Descriptor, error) {
	body, err := fetch(ctx, host, port, timeout)
	if err != nil {
		return nil, err
	}
	return parseDescriptor(body)
}

func fetch(ctx context.Context, host string, port int, timeout time.Duration) ([]byte, error) {
	if port == 0 {
		port = DefaultPort
	}
	url := fmt.Sprintf("http://%s:%d%s", host, port, descriptorPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build descriptor request: %w", err)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch descriptor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch descriptor: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	return body, nil
}

type xmlElement struct {
	tag  string
	text string
}

// walkElements flattens the XML tree into (tag, text) pairs in document
// order. ok is false when the document is not well formed.
func walkElements(body []byte) ([]xmlElement, bool) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var elems []xmlElement
	var stack []int
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false
		}
		switch t := tok.(type) {
		case xml.StartElement:
			elems = append(elems, xmlElement{tag: t.Name.Local})
			stack = append(stack, len(elems)-1)
		case xml.CharData:
			if len(stack) > 0 {
				elems[stack[len(stack)-1]].text += string(t)
			}
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return elems, true
}

// extractVersion searches the descriptor in priority order: a dedicated
// element named after the field, a key=value pair inside element text,
// then the same pattern over the raw document.
func extractVersion(body []byte) (int, bool) {
	elems, ok := walkElements(body)
	if !ok {
		return 0, false
	}

	for _, e := range elems {
		if strings.Contains(strings.ToLower(e.tag), "transport_protocol") {
			if v, err := strconv.Atoi(strings.TrimSpace(e.text)); err == nil {
				return v, true
			}
		}
	}

	for _, e := range elems {
		if m := versionRe.FindStringSubmatch(e.text); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				return v, true
			}
		}
	}

	if m := versionRe.FindSubmatch(body); m != nil {
		if v, err := strconv.Atoi(string(m[1])); err == nil {
			return v, true
		}
	}

	return 0, false
}

func parseDescriptor(body []byte) (*Descriptor, error) {
	var doc struct {
		Device struct {
			FriendlyName     string `xml:"friendlyName"`
			ModelName        string `xml:"modelName"`
			ModelDescription string `xml:"modelDescription"`
			UDN              string `xml:"UDN"`
		} `xml:"device"`
	}
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}

	d := &Descriptor{
		FriendlyName: strings.TrimSpace(doc.Device.FriendlyName),
		UDN:          strings.TrimSpace(doc.Device.UDN),
		Fields:       parseModelDescription(doc.Device.ModelDescription),
	}
	// "Renderer" is the placeholder model name on generic UPnP stacks.
	if name := strings.TrimSpace(doc.Device.ModelName); name != "Renderer" {
		d.ModelName = name
	}
	return d, nil
}

// parseModelDescription splits the vendor free-text block into key=value
// pairs, one per line. Lines without '=' are ignored.
func parseModelDescription(text string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return fields
}
