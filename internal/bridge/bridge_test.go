package bridge

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTV(name, mac string) *TV {
	return &TV{
		cfg:  TVConfig{Name: name, Host: "192.0.2.10", MAC: mac},
		name: tvTopicName(name),
	}
}

func extractTopics(msgs []discoveryMsg) map[string]bool {
	topics := make(map[string]bool)
	for _, m := range msgs {
		topics[m.Topic] = true
	}
	return topics
}

func TestDiscoveryPowerSwitch(t *testing.T) {
	tv := testTV("Living Room TV", "56:b8:88:4e:f7:19")
	msgs := buildDiscovery(tv, "vidaa2mqtt")
	if len(msgs) == 0 {
		t.Fatal("expected discovery messages")
	}

	var powerMsg *discoveryMsg
	for i := range msgs {
		if msgs[i].Topic == "homeassistant/switch/vidaa_56b8884ef719/power/config" {
			powerMsg = &msgs[i]
			break
		}
	}
	if powerMsg == nil {
		t.Fatal("power switch discovery not found")
	}

	var payload haDiscovery
	if err := json.Unmarshal(powerMsg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if payload.Name != "Living Room TV Power" {
		t.Errorf("name = %q, want %q", payload.Name, "Living Room TV Power")
	}
	if payload.UniqueID != "vidaa_56b8884ef719_power" {
		t.Errorf("unique_id = %q", payload.UniqueID)
	}
	if payload.StateTopic != "vidaa2mqtt/living_room_tv/state" {
		t.Errorf("state_topic = %q", payload.StateTopic)
	}
	if payload.CommandTopic != "vidaa2mqtt/living_room_tv/set" {
		t.Errorf("command_topic = %q", payload.CommandTopic)
	}
	if payload.AvailabilityTopic != "vidaa2mqtt/living_room_tv/availability" {
		t.Errorf("availability_topic = %q", payload.AvailabilityTopic)
	}
	if payload.ValueTemplate != "{{ value_json.power }}" {
		t.Errorf("value_template = %q", payload.ValueTemplate)
	}
	if payload.PayloadOn != `{"power":"ON"}` {
		t.Errorf("payload_on = %q", payload.PayloadOn)
	}
	if payload.StateOn != "ON" || payload.StateOff != "OFF" {
		t.Errorf("state_on/state_off = %q/%q", payload.StateOn, payload.StateOff)
	}
	if payload.Device.Manufacturer != "Hisense" {
		t.Errorf("device.manufacturer = %q", payload.Device.Manufacturer)
	}
	if payload.Device.Name != "Living Room TV" {
		t.Errorf("device.name = %q", payload.Device.Name)
	}
}

func TestDiscoveryComponentSet(t *testing.T) {
	tv := testTV("Living Room TV", "56:b8:88:4e:f7:19")
	topics := extractTopics(buildDiscovery(tv, "vidaa2mqtt"))

	want := []string{
		"homeassistant/switch/vidaa_56b8884ef719/power/config",
		"homeassistant/number/vidaa_56b8884ef719/volume/config",
		"homeassistant/select/vidaa_56b8884ef719/source/config",
		"homeassistant/sensor/vidaa_56b8884ef719/activity/config",
		"homeassistant/button/vidaa_56b8884ef719/mute/config",
	}
	for _, topic := range want {
		if !topics[topic] {
			t.Errorf("missing discovery topic %s", topic)
		}
	}
	if len(topics) != len(want) {
		t.Errorf("got %d discovery topics, want %d", len(topics), len(want))
	}
}

func TestDiscoveryVolumeNumber(t *testing.T) {
	tv := testTV("Bedroom", "56:b8:88:4e:f7:19")
	msgs := buildDiscovery(tv, "vidaa2mqtt")

	for _, m := range msgs {
		if m.Topic != "homeassistant/number/vidaa_56b8884ef719/volume/config" {
			continue
		}
		var payload haDiscovery
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Min == nil || *payload.Min != 0 {
			t.Errorf("min = %v, want 0", payload.Min)
		}
		if payload.Max == nil || *payload.Max != 100 {
			t.Errorf("max = %v, want 100", payload.Max)
		}
		if payload.CommandTemplate != `{"volume": {{ value }}}` {
			t.Errorf("command_template = %q", payload.CommandTemplate)
		}
		if payload.ValueTemplate != "{{ value_json.volume }}" {
			t.Errorf("value_template = %q", payload.ValueTemplate)
		}
		return
	}
	t.Fatal("volume number discovery not found")
}

func TestDiscoverySourceSelect(t *testing.T) {
	tv := testTV("Bedroom", "56:b8:88:4e:f7:19")
	msgs := buildDiscovery(tv, "vidaa2mqtt")

	for _, m := range msgs {
		if m.Topic != "homeassistant/select/vidaa_56b8884ef719/source/config" {
			continue
		}
		var payload haDiscovery
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			t.Fatal(err)
		}
		if len(payload.Options) != 7 {
			t.Fatalf("options = %v, want 7 sources", payload.Options)
		}
		if payload.Options[0] != "tv" || payload.Options[3] != "hdmi1" {
			t.Errorf("options = %v", payload.Options)
		}
		if payload.CommandTemplate != `{"source": "{{ value }}"}` {
			t.Errorf("command_template = %q", payload.CommandTemplate)
		}
		return
	}
	t.Fatal("source select discovery not found")
}

func TestDiscoveryIdentifierWithoutMAC(t *testing.T) {
	tv := testTV("bedroom", "")
	topics := extractTopics(buildDiscovery(tv, "vidaa2mqtt"))
	if !topics["homeassistant/switch/vidaa_bedroom/power/config"] {
		t.Error("expected topic-name identifier when no MAC is configured")
	}
}

func TestRemoveDiscovery(t *testing.T) {
	tv := testTV("Living Room TV", "56:b8:88:4e:f7:19")
	built := extractTopics(buildDiscovery(tv, "vidaa2mqtt"))
	removed := buildRemoveDiscovery(tv)

	if len(removed) != len(built) {
		t.Fatalf("removal covers %d topics, discovery has %d", len(removed), len(built))
	}
	for _, m := range removed {
		if !built[m.Topic] {
			t.Errorf("removal topic %s was never announced", m.Topic)
		}
		if m.Payload != nil {
			t.Errorf("removal message should have nil payload, got %q for %s", m.Payload, m.Topic)
		}
	}
}

func TestTVTopicName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Living Room TV", "living_room_tv"},
		{"bedroom", "bedroom"},
		{"TV (upstairs)", "tv__upstairs_"},
		{"Küche", "k_che"},
		{"192.0.2.10", "192_0_2_10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tvTopicName(tt.name)
			if got != tt.want {
				t.Errorf("tvTopicName(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestParseSetCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		check   func(t *testing.T, cmd setCommand)
	}{
		{
			name:    "power lowercase normalized",
			payload: `{"power":"on"}`,
			check: func(t *testing.T, cmd setCommand) {
				if cmd.Power != "ON" {
					t.Errorf("power = %q, want ON", cmd.Power)
				}
			},
		},
		{
			name:    "power toggle",
			payload: `{"power":"TOGGLE"}`,
			check: func(t *testing.T, cmd setCommand) {
				if cmd.Power != "TOGGLE" {
					t.Errorf("power = %q", cmd.Power)
				}
			},
		},
		{
			name:    "power invalid value",
			payload: `{"power":"standby"}`,
			wantErr: true,
		},
		{
			name:    "volume number",
			payload: `{"volume":25}`,
			check: func(t *testing.T, cmd setCommand) {
				if cmd.Volume == nil || *cmd.Volume != 25 {
					t.Errorf("volume = %v, want 25", cmd.Volume)
				}
			},
		},
		{
			name:    "volume float from template",
			payload: `{"volume":25.0}`,
			check: func(t *testing.T, cmd setCommand) {
				if cmd.Volume == nil || *cmd.Volume != 25 {
					t.Errorf("volume = %v, want 25", cmd.Volume)
				}
			},
		},
		{
			name:    "mute",
			payload: `{"mute":true}`,
			check: func(t *testing.T, cmd setCommand) {
				if !cmd.Mute {
					t.Error("mute not set")
				}
			},
		},
		{
			name:    "source and key and app",
			payload: `{"source":"hdmi2","key":"volume_up","app":"netflix"}`,
			check: func(t *testing.T, cmd setCommand) {
				if cmd.Source != "hdmi2" || cmd.Key != "volume_up" || cmd.App != "netflix" {
					t.Errorf("cmd = %+v", cmd)
				}
			},
		},
		{
			name:    "combined power and volume",
			payload: `{"power":"ON","volume":10}`,
			check: func(t *testing.T, cmd setCommand) {
				if cmd.Power != "ON" || cmd.Volume == nil || *cmd.Volume != 10 {
					t.Errorf("cmd = %+v", cmd)
				}
			},
		},
		{
			name:    "empty document",
			payload: `{}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `volume up please`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := parseSetCommand([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", cmd)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSetCommand: %v", err)
			}
			tt.check(t, cmd)
		})
	}
}

func TestMergeStateAccumulates(t *testing.T) {
	b := &Bridge{states: make(map[string]map[string]any)}

	b.mergeState("living_room_tv", map[string]any{"power": "ON", "statetype": "livetv"})
	payload := b.mergeState("living_room_tv", map[string]any{"volume": 25})

	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if state["power"] != "ON" {
		t.Errorf("power = %v, want ON", state["power"])
	}
	if state["statetype"] != "livetv" {
		t.Errorf("statetype = %v", state["statetype"])
	}
	if state["volume"] != float64(25) {
		t.Errorf("volume = %v, want 25", state["volume"])
	}
	ls, _ := state["last_seen"].(string)
	if _, err := time.Parse(time.RFC3339, ls); err != nil {
		t.Errorf("last_seen = %q, not RFC3339: %v", ls, err)
	}
}

func TestCommandUnknownTV(t *testing.T) {
	b := &Bridge{tvs: make(map[string]*TV)}
	if err := b.Command("attic", []byte(`{"power":"OFF"}`)); err == nil {
		t.Error("expected error for unknown tv")
	}
}

func TestSubnetOf(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"192.168.1.42", "192.168.1"},
		{"10.0.0.7", "10.0.0"},
		{"tv.lan", ""},
		{"2001:db8::1", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := subnetOf(tt.host); got != tt.want {
			t.Errorf("subnetOf(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}
