// Package bridge republishes TV state to a home MQTT broker and turns
// broker commands back into TV session calls, with Home Assistant
// autodiscovery on top.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"vidaa-home/internal/token"
	"vidaa-home/internal/vidaa"
	"vidaa-home/internal/wol"
)

const (
	defaultTopicPrefix  = "vidaa2mqtt"
	defaultPollInterval = 30 * time.Second

	connectTimeout    = 10 * time.Second
	stateQueryTimeout = 3 * time.Second
	pinTimeout        = 30 * time.Second
	reconnectMinDelay = 5 * time.Second
	reconnectMaxDelay = 2 * time.Minute
)

// ErrUnknownTV is returned for a TV name the bridge does not manage.
var ErrUnknownTV = errors.New("unknown tv")

// Config holds home-broker bridge configuration.
type Config struct {
	Broker       string
	Username     string
	Password     string
	TopicPrefix  string
	PollInterval time.Duration
}

// Bridge connects the managed TV sessions to a home MQTT broker.
type Bridge struct {
	client pahomqtt.Client
	prefix string
	poll   time.Duration
	logger *slog.Logger
	events *EventBus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// tvs is fixed after NewBridge; list preserves config order.
	tvs  map[string]*TV
	list []*TV

	// Per-TV state accumulator, keyed by topic name.
	mu     sync.Mutex
	states map[string]map[string]any
}

// NewBridge creates the TV sessions and connects to the home broker.
func NewBridge(cfg Config, tvCfgs []TVConfig, store token.Store, logger *slog.Logger) (*Bridge, error) {
	if len(tvCfgs) == 0 {
		return nil, fmt.Errorf("no tvs configured")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		prefix: cfg.TopicPrefix,
		poll:   cfg.PollInterval,
		logger: logger.With("component", "bridge"),
		events: NewEventBus(logger.With("component", "events")),
		tvs:    make(map[string]*TV),
		states: make(map[string]map[string]any),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, tc := range tvCfgs {
		tv, err := b.newTV(tc, store, logger)
		if err != nil {
			cancel()
			return nil, err
		}
		if _, dup := b.tvs[tv.name]; dup {
			cancel()
			return nil, fmt.Errorf("duplicate tv name %q", tv.name)
		}
		b.tvs[tv.name] = tv
		b.list = append(b.list, tv)
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("vidaa-home-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("home broker connected", "broker", cfg.Broker)
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("home broker connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		cancel()
		return nil, fmt.Errorf("home broker connect timeout")
	}
	if err := tok.Error(); err != nil {
		cancel()
		return nil, fmt.Errorf("home broker connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start launches the per-TV connect and poll loops.
func (b *Bridge) Start() {
	for _, tv := range b.list {
		b.wg.Add(1)
		go b.runTV(tv)
	}
	b.logger.Info("bridge started", "prefix", b.prefix, "tvs", len(b.list))
}

// Stop shuts down the TV sessions, publishes offline state and drops
// the broker connection.
func (b *Bridge) Stop() {
	b.cancel()
	b.wg.Wait()
	for _, tv := range b.list {
		tv.async.Close()
		tv.session.Disconnect()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("bridge stopped")
}

// Events returns the bridge event bus.
func (b *Bridge) Events() *EventBus { return b.events }

// TV looks up a managed TV by topic name.
func (b *Bridge) TV(name string) (*TV, bool) {
	tv, ok := b.tvs[name]
	return tv, ok
}

// TVNames returns the managed TV topic names, sorted.
func (b *Bridge) TVNames() []string {
	names := make([]string, 0, len(b.tvs))
	for name := range b.tvs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// State returns a copy of the accumulated published state for a TV.
func (b *Bridge) State(name string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.states[name]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// runTV owns one TV's connection. TV sessions never auto-reconnect, so
// the loop here connects with backoff, polls while up and reconnects
// after drops.
func (b *Bridge) runTV(tv *TV) {
	defer b.wg.Done()
	delay := reconnectMinDelay
	for {
		if b.ctx.Err() != nil {
			return
		}
		ok, err := tv.async.Connect(b.ctx, connectTimeout, true, true)
		if err != nil || !ok {
			b.logger.Warn("tv connect failed", "tv", tv.name, "retry_in", delay)
			select {
			case <-time.After(delay):
			case <-b.ctx.Done():
				return
			}
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}
		delay = reconnectMinDelay

		// Drain a stale drop signal from the previous connection.
		select {
		case <-tv.lost:
		default:
		}

		b.setAvailability(tv, true)
		if tv.session.NeedsAuthentication() {
			b.logger.Warn("tv needs pairing, commands are ignored until a PIN is entered", "tv", tv.name)
			b.events.Emit(Event{Type: EventAuthRequired, Device: tv.name})
		}
		b.pollLoop(tv)
		b.setAvailability(tv, false)
	}
}

func (b *Bridge) pollLoop(tv *TV) {
	b.refreshTV(tv)
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !tv.session.IsConnected() {
				return
			}
			b.refreshTV(tv)
		case <-tv.lost:
			b.logger.Warn("tv connection lost", "tv", tv.name)
			return
		case <-b.ctx.Done():
			return
		}
	}
}

// refreshTV polls state and volume. Broadcast pushes already land here
// through the session callbacks; polling keeps last_seen fresh and
// catches changes the TV never announced.
func (b *Bridge) refreshTV(tv *TV) {
	if state, err := tv.async.GetState(b.ctx, stateQueryTimeout); err == nil && state != nil {
		b.applyState(tv, state)
	}
	if vol, ok, err := tv.async.GetVolume(b.ctx, stateQueryTimeout); err == nil && ok {
		b.applyVolume(tv, vol)
	}
}

// applyState folds a TV state document into the published state.
func (b *Bridge) applyState(tv *TV, state map[string]any) {
	props := make(map[string]any)
	if st, ok := state["statetype"].(string); ok && st != "" {
		props["statetype"] = st
		if vidaa.Awake(state) {
			props["power"] = "ON"
		} else {
			props["power"] = "OFF"
		}
	}
	b.updateAndPublishState(tv.name, props)
	b.events.Emit(Event{Type: EventTVState, Device: tv.name, Data: state})
}

func (b *Bridge) applyVolume(tv *TV, level int) {
	b.updateAndPublishState(tv.name, map[string]any{"volume": level})
	b.events.Emit(Event{Type: EventTVVolume, Device: tv.name, Data: level})
}

func (b *Bridge) setAvailability(tv *TV, online bool) {
	state := "offline"
	if online {
		state = "online"
	}
	tv.setConnected(online)
	b.publish(b.prefix+"/"+tv.name+"/availability", []byte(state), true)
	b.events.Emit(Event{Type: EventAvailability, Device: tv.name, Data: state})
	b.logger.Info("tv availability", "tv", tv.name, "state", state)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publishAllDiscovery() {
	for _, tv := range b.list {
		for _, msg := range buildDiscovery(tv, b.prefix) {
			b.publish(msg.Topic, msg.Payload, true)
		}
		b.logger.Info("published HA discovery", "tv", tv.name)
	}
}

func (b *Bridge) subscribeCommands() {
	for _, tv := range b.list {
		topic := b.prefix + "/" + tv.name + "/set"
		name := tv.name
		b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			if err := b.Command(name, msg.Payload()); err != nil {
				b.logger.Warn("set command rejected", "tv", name, "err", err)
			}
		})
	}
}

// setCommand is the JSON grammar of the <prefix>/<tv>/set topic and the
// web command endpoint. Every field is optional; present fields apply
// in struct order.
type setCommand struct {
	Power  string // ON, OFF or TOGGLE
	Volume *int
	Mute   bool
	Source string
	Key    string
	App    string
}

func parseSetCommand(payload []byte) (setCommand, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return setCommand{}, fmt.Errorf("command payload: %w", err)
	}
	var cmd setCommand
	if v, ok := raw["power"].(string); ok {
		cmd.Power = strings.ToUpper(strings.TrimSpace(v))
		switch cmd.Power {
		case "", "ON", "OFF", "TOGGLE":
		default:
			return setCommand{}, fmt.Errorf("power must be ON, OFF or TOGGLE, got %q", v)
		}
	}
	if v, ok := toFloat64(raw["volume"]); ok {
		level := int(v)
		cmd.Volume = &level
	}
	if v, ok := raw["mute"].(bool); ok {
		cmd.Mute = v
	}
	if v, ok := raw["source"].(string); ok {
		cmd.Source = v
	}
	if v, ok := raw["key"].(string); ok {
		cmd.Key = v
	}
	if v, ok := raw["app"].(string); ok {
		cmd.App = v
	}
	if cmd == (setCommand{}) {
		return setCommand{}, fmt.Errorf("no recognized command field in %s", payload)
	}
	return cmd, nil
}

// Command applies one set-command document to a TV. The MQTT set topic
// and the web command endpoint share this entry point.
func (b *Bridge) Command(name string, payload []byte) error {
	tv, ok := b.TV(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTV, name)
	}
	cmd, err := parseSetCommand(payload)
	if err != nil {
		return err
	}

	// A fully powered-down TV has no broker to talk to. Fire a magic
	// packet and let the reconnect loop pick it up once it boots.
	if cmd.Power == "ON" && !tv.Connected() {
		return b.Wake(name)
	}

	if err := tv.async.Submit(func() { b.applyCommand(tv, cmd) }); err != nil {
		return fmt.Errorf("tv %q: %w", name, err)
	}
	return nil
}

// applyCommand runs on the TV worker so session calls may block.
func (b *Bridge) applyCommand(tv *TV, cmd setCommand) {
	s := tv.session
	switch cmd.Power {
	case "ON":
		if s.PowerOn() {
			b.updateAndPublishState(tv.name, map[string]any{"power": "ON"})
		}
	case "OFF":
		if s.PowerOff() {
			b.updateAndPublishState(tv.name, map[string]any{"power": "OFF"})
		}
	case "TOGGLE":
		s.PowerToggle()
	}
	if cmd.Volume != nil {
		level := *cmd.Volume
		if level < 0 {
			level = 0
		} else if level > 100 {
			level = 100
		}
		if s.SetVolume(level) {
			b.updateAndPublishState(tv.name, map[string]any{"volume": level})
		}
	}
	if cmd.Mute {
		s.Mute()
	}
	if cmd.Source != "" && s.SetSource(cmd.Source) {
		b.updateAndPublishState(tv.name, map[string]any{"source": cmd.Source})
	}
	if cmd.Key != "" {
		s.SendKeyChecked(vidaa.KeyFromName(cmd.Key))
	}
	if cmd.App != "" && !s.LaunchApp(cmd.App) {
		b.logger.Warn("app launch failed", "tv", tv.name, "app", cmd.App)
	}
}

// Wake sends a Wake-on-LAN burst for a configured TV.
func (b *Bridge) Wake(name string) error {
	tv, ok := b.TV(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTV, name)
	}
	if tv.cfg.MAC == "" {
		return fmt.Errorf("tv %q has no mac configured, cannot wake", name)
	}
	b.logger.Info("sending wake-on-lan", "tv", name, "mac", tv.cfg.MAC)
	return wol.Wake(tv.cfg.MAC, subnetOf(tv.cfg.Host))
}

// Pair asks a TV to bring up its pairing code overlay.
func (b *Bridge) Pair(ctx context.Context, name string) (bool, error) {
	tv, ok := b.TV(name)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTV, name)
	}
	return tv.async.StartPairing(ctx)
}

// SubmitPin completes pairing with the PIN shown on the panel.
func (b *Bridge) SubmitPin(ctx context.Context, name, pin string) (bool, error) {
	tv, ok := b.TV(name)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownTV, name)
	}
	return tv.async.Authenticate(ctx, pin, pinTimeout)
}

// DeviceInfo is a point-in-time summary of one managed TV.
type DeviceInfo struct {
	Name            string         `json:"name"`
	Host            string         `json:"host"`
	MAC             string         `json:"mac,omitempty"`
	Connected       bool           `json:"connected"`
	Authenticated   bool           `json:"authenticated"`
	NeedsPairing    bool           `json:"needs_pairing"`
	Generation      string         `json:"generation,omitempty"`
	ProtocolVersion int            `json:"protocol_version,omitempty"`
	Token           token.Status   `json:"token"`
	State           map[string]any `json:"state,omitempty"`
}

// Info summarizes one TV for the web layer.
func (b *Bridge) Info(name string) (DeviceInfo, bool) {
	tv, ok := b.TV(name)
	if !ok {
		return DeviceInfo{}, false
	}
	s := tv.session
	info := DeviceInfo{
		Name:          tv.name,
		Host:          tv.cfg.Host,
		MAC:           tv.cfg.MAC,
		Connected:     tv.Connected(),
		Authenticated: s.IsAuthenticated(),
		NeedsPairing:  s.NeedsAuthentication(),
		Token:         s.TokenStatus(),
		State:         b.State(tv.name),
	}
	// Generation and protocol version are only authoritative once the
	// session has resolved its identity against the device.
	if info.Connected {
		info.Generation = s.Generation().String()
		info.ProtocolVersion = s.ProtocolVersion()
	}
	return info, true
}

// Devices summarizes every managed TV, sorted by name.
func (b *Bridge) Devices() []DeviceInfo {
	infos := make([]DeviceInfo, 0, len(b.tvs))
	for _, name := range b.TVNames() {
		info, _ := b.Info(name)
		infos = append(infos, info)
	}
	return infos
}

// subnetOf returns the /24 prefix of an IPv4 host for directed
// broadcast, or "" for hostnames and non-IPv4 addresses.
func subnetOf(host string) string {
	ip := net.ParseIP(host)
	if ip == nil {
		return ""
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return ""
	}
	return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2])
}

// mergeState folds props into the accumulated state and returns the
// JSON document to publish.
func (b *Bridge) mergeState(name string, props map[string]any) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.states[name]
	if !ok {
		state = make(map[string]any)
		b.states[name] = state
	}
	for k, v := range props {
		state[k] = v
	}
	state["last_seen"] = time.Now().Format(time.RFC3339)
	return mustJSON(state)
}

func (b *Bridge) updateAndPublishState(name string, props map[string]any) {
	payload := b.mergeState(name, props)
	b.publish(b.prefix+"/"+name+"/state", payload, true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	tok := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !tok.WaitTimeout(5 * time.Second) {
			b.logger.Warn("publish timeout", "topic", topic)
		} else if err := tok.Error(); err != nil {
			b.logger.Warn("publish error", "topic", topic, "err", err)
		}
	}()
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
