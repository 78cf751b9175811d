package bridge

import (
	"fmt"
	"strings"

	"vidaa-home/internal/credentials"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/switch/vidaa_56b8884ef719/power/config"
	Payload []byte // JSON, nil means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	CommandTemplate   string   `json:"command_template,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	StateOn           string   `json:"state_on,omitempty"`
	StateOff          string   `json:"state_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Min               *int     `json:"min,omitempty"`
	Max               *int     `json:"max,omitempty"`
	Options           []string `json:"options,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

// sourceOptions is the select dropdown, in panel order.
var sourceOptions = []string{"tv", "av", "component", "hdmi1", "hdmi2", "hdmi3", "hdmi4"}

// tvDisplayName returns a human name for HA.
func tvDisplayName(cfg TVConfig) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Host
}

// tvIdentifier returns the unique identifier for the HA device
// registry: the flat MAC when configured, else the topic name.
func tvIdentifier(tv *TV) string {
	if tv.cfg.MAC != "" {
		mac := credentials.NormalizeMAC(tv.cfg.MAC)
		return "vidaa_" + strings.ReplaceAll(mac, ":", "")
	}
	return "vidaa_" + tv.name
}

// tvTopicName sanitizes a name into an MQTT topic segment: lowercase,
// only [a-z0-9_-].
func tvTopicName(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

// buildDiscovery generates the HA discovery set for a TV: a power
// switch, a volume number, a source select, an activity sensor and a
// mute button, all sharing one device block.
func buildDiscovery(tv *TV, prefix string) []discoveryMsg {
	nodeID := tvIdentifier(tv)
	displayName := tvDisplayName(tv.cfg)
	stateTopic := prefix + "/" + tv.name + "/state"
	cmdTopic := prefix + "/" + tv.name + "/set"
	avail := prefix + "/" + tv.name + "/availability"

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "Hisense",
		Model:        "VIDAA TV",
		Name:         displayName,
	}

	return []discoveryMsg{
		buildPowerSwitch(nodeID, displayName, stateTopic, cmdTopic, avail, haDev),
		buildVolumeNumber(nodeID, displayName, stateTopic, cmdTopic, avail, haDev),
		buildSourceSelect(nodeID, displayName, stateTopic, cmdTopic, avail, haDev),
		buildActivitySensor(nodeID, displayName, stateTopic, avail, haDev),
		buildMuteButton(nodeID, displayName, cmdTopic, avail, haDev),
	}
}

func buildPowerSwitch(nodeID, displayName, stateTopic, cmdTopic, avail string, haDev haDevice) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/switch/%s/power/config", nodeID)
	payload := haDiscovery{
		Name:              displayName + " Power",
		UniqueID:          nodeID + "_power",
		StateTopic:        stateTopic,
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.power }}",
		PayloadOn:         `{"power":"ON"}`,
		PayloadOff:        `{"power":"OFF"}`,
		StateOn:           "ON",
		StateOff:          "OFF",
		Icon:              "mdi:television",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildVolumeNumber(nodeID, displayName, stateTopic, cmdTopic, avail string, haDev haDevice) discoveryMsg {
	low, high := 0, 100
	topic := fmt.Sprintf("homeassistant/number/%s/volume/config", nodeID)
	payload := haDiscovery{
		Name:              displayName + " Volume",
		UniqueID:          nodeID + "_volume",
		StateTopic:        stateTopic,
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.volume }}",
		CommandTemplate:   `{"volume": {{ value }}}`,
		Min:               &low,
		Max:               &high,
		Icon:              "mdi:volume-high",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildSourceSelect(nodeID, displayName, stateTopic, cmdTopic, avail string, haDev haDevice) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/select/%s/source/config", nodeID)
	payload := haDiscovery{
		Name:              displayName + " Source",
		UniqueID:          nodeID + "_source",
		StateTopic:        stateTopic,
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.source }}",
		CommandTemplate:   `{"source": "{{ value }}"}`,
		Options:           sourceOptions,
		Icon:              "mdi:video-input-hdmi",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildActivitySensor(nodeID, displayName, stateTopic, avail string, haDev haDevice) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/sensor/%s/activity/config", nodeID)
	payload := haDiscovery{
		Name:              displayName + " Activity",
		UniqueID:          nodeID + "_activity",
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ value_json.statetype }}",
		Icon:              "mdi:television-classic",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildMuteButton(nodeID, displayName, cmdTopic, avail string, haDev haDevice) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/button/%s/mute/config", nodeID)
	payload := haDiscovery{
		Name:              displayName + " Mute",
		UniqueID:          nodeID + "_mute",
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		PayloadPress:      `{"mute":true}`,
		Icon:              "mdi:volume-mute",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates empty retained messages to remove a
// TV from HA.
func buildRemoveDiscovery(tv *TV) []discoveryMsg {
	nodeID := tvIdentifier(tv)

	components := []struct{ comp, obj string }{
		{"switch", "power"},
		{"number", "volume"},
		{"select", "source"},
		{"sensor", "activity"},
		{"button", "mute"},
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
