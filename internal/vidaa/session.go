// Package vidaa implements the MQTT control protocol spoken by
// Hisense/VIDAA TVs: pairing, token lifecycle, remote keys, volume,
// source and app control, and the broadcast state feed.
package vidaa

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"vidaa-home/internal/credentials"
	"vidaa-home/internal/protocol"
	"vidaa-home/internal/token"
)

const (
	defaultClientLabel   = "vidaa-home"
	defaultDetectTimeout = 2 * time.Second
	defaultStateTimeout  = 3 * time.Second
	publishTimeout       = 5 * time.Second
	statePollInterval    = 100 * time.Millisecond
)

// stateFakeSleep is the statetype the TV broadcasts while in standby.
const stateFakeSleep = "fake_sleep_0"

// mqttClient is the subset of the paho client the session uses. Tests
// substitute a fake through the session's client factory.
type mqttClient interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	IsConnected() bool
}

// Options configures a Session.
type Options struct {
	Host string
	Port int // default 36669

	// DeviceID is the TV's MAC address. Setting it enables dynamic
	// credential derivation; without it the session falls back to the
	// static identity only very old firmware accepts.
	DeviceID string
	Brand    string // default "his"

	// Generation pins the credential algorithm. Leave nil to detect it
	// from the device descriptor and walk the fallback order when the
	// first connect fails.
	Generation *credentials.Generation

	// DisableTLS connects over plain TCP. TVs normally require TLS
	// with a self-signed certificate, so the TLS config never verifies
	// the chain.
	DisableTLS bool
	CertFile   string // optional client certificate (mutual TLS)
	KeyFile    string

	// Store persists tokens across sessions. Nil disables persistence.
	Store token.Store

	Logger *slog.Logger

	DetectTimeout time.Duration // descriptor probe timeout, default 2s

	// OnState is invoked for every broadcast state push, OnVolume for
	// broadcast volume changes, OnAuthRequired when the TV asks for a
	// PIN, OnConnectionLost when the transport drops. All run on the
	// inbound dispatch path and must not block.
	OnState          func(state map[string]any)
	OnVolume         func(level int)
	OnAuthRequired   func()
	OnConnectionLost func(err error)
}

// Session is one control connection to a TV. Blocking calls must not be
// issued from the callbacks above, and callers are expected to issue at
// most one blocking call at a time (see Async).
type Session struct {
	opts   Options
	logger *slog.Logger

	host  string
	port  int
	brand string

	store token.Store

	// newClient is the paho constructor, overridable in tests.
	newClient func(*pahomqtt.ClientOptions) mqttClient

	// stateTimeout bounds the implicit state queries behind IsOn and
	// the power guards.
	stateTimeout time.Duration

	identityOnce sync.Once

	mu              sync.Mutex
	client          mqttClient
	creds           credentials.Credentials
	topicClient     string
	generation      credentials.Generation
	detected        bool
	protocolVersion int
	accessToken     string
	refreshToken    string
	pendingRefresh  bool
	connected       bool
	authenticated   bool
	authRequired    bool
	state           map[string]any
	stateRaw        []byte
	volume          int
	hasVolume       bool
	waiters         map[string]chan []byte
	authWaiter      chan bool
	tokenWaiter     chan struct{}
}

// NewSession creates a session for one TV. No network traffic happens
// until Connect.
func NewSession(opts Options) *Session {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.Brand == "" {
		opts.Brand = credentials.DefaultBrand
	}
	if opts.DetectTimeout == 0 {
		opts.DetectTimeout = defaultDetectTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		opts:         opts,
		logger:       logger.With("component", "session", "tv", opts.Host),
		host:         opts.Host,
		port:         opts.Port,
		brand:        opts.Brand,
		store:        opts.Store,
		waiters:      make(map[string]chan []byte),
		stateTimeout: defaultStateTimeout,
	}
	s.newClient = func(o *pahomqtt.ClientOptions) mqttClient {
		return pahomqtt.NewClient(o)
	}
	return s
}

// deviceKey is the token store key: the normalized MAC, or host:port
// for static-identity sessions that have no MAC.
func (s *Session) deviceKey() string {
	if s.opts.DeviceID != "" {
		return credentials.NormalizeMAC(s.opts.DeviceID)
	}
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// ensureIdentity resolves the credential set once: stored identity
// first, then dynamic derivation (detecting the protocol generation if
// not pinned), then the static fallback.
func (s *Session) ensureIdentity() {
	s.identityOnce.Do(func() {
		if s.loadStoredIdentity() {
			return
		}
		if s.opts.DeviceID == "" {
			s.mu.Lock()
			s.creds = credentials.Credentials{
				ClientID: fmt.Sprintf("%s_%d", defaultClientLabel, time.Now().Unix()),
				Username: credentials.StaticUsername,
				Password: credentials.StaticPassword,
			}
			s.topicClient = defaultClientLabel
			s.mu.Unlock()
			s.logger.Debug("using static credentials")
			return
		}

		gen := credentials.Modern
		detected := false
		version := 0
		if s.opts.Generation != nil {
			gen = *s.opts.Generation
			detected = true
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.DetectTimeout)
			version, detected = protocol.Detect(ctx, s.host, protocol.DefaultPort, s.opts.DetectTimeout)
			cancel()
			gen = protocol.GenerationFor(version, detected)
			if detected {
				s.logger.Info("protocol detected", "version", version, "generation", gen.String())
			} else {
				s.logger.Warn("protocol detection failed, assuming modern", "generation", gen.String())
			}
		}

		s.mu.Lock()
		s.generation = gen
		s.detected = detected
		s.protocolVersion = version
		s.mu.Unlock()
		s.applyGeneration(gen)
	})
}

// loadStoredIdentity adopts the client identity and tokens saved by a
// previous pairing, when they are still usable.
func (s *Session) loadStoredIdentity() bool {
	if s.store == nil {
		return false
	}
	rec, err := s.store.Get(s.deviceKey(), s.host, s.port)
	if err != nil {
		if !errors.Is(err, token.ErrNotFound) {
			s.logger.Warn("token store read failed", "err", err)
		}
		return false
	}
	if rec.ClientID == "" || rec.MQTTUsername == "" {
		return false
	}
	status := s.store.Status(s.deviceKey(), s.host, s.port)
	if status.NeedsReauth {
		s.logger.Info("stored tokens expired, pairing required")
		return false
	}

	s.mu.Lock()
	s.creds = credentials.Credentials{ClientID: rec.ClientID, Username: rec.MQTTUsername}
	s.topicClient = rec.ClientID
	s.accessToken = rec.AccessToken
	s.refreshToken = rec.RefreshToken
	s.pendingRefresh = status.NeedsRefresh
	if rec.AuthMethod != "" {
		s.generation = credentials.ParseGeneration(rec.AuthMethod)
	}
	if rec.ProtocolVersion != 0 {
		s.protocolVersion = rec.ProtocolVersion
		s.detected = true
	}
	s.mu.Unlock()

	if status.NeedsRefresh {
		s.logger.Info("access token expired, will refresh after connect",
			"refresh_valid_h", status.RefreshExpiresIn/3600)
	} else {
		s.logger.Debug("using saved credentials", "valid_h", status.AccessExpiresIn/3600)
	}
	return true
}

// applyGeneration regenerates the derived credential set for gen,
// discarding any adopted token identity.
func (s *Session) applyGeneration(gen credentials.Generation) {
	creds := credentials.Generate(s.opts.DeviceID, s.brand, gen, time.Now().Unix())

	s.mu.Lock()
	s.generation = gen
	s.creds = creds
	s.topicClient = creds.ClientID
	s.accessToken = ""
	s.refreshToken = ""
	s.pendingRefresh = false
	s.mu.Unlock()
}

func (s *Session) topic(template string) string {
	s.mu.Lock()
	client := s.topicClient
	s.mu.Unlock()
	return formatTopic(template, client)
}

// password picks the MQTT password for the next connect: the refresh
// token while a refresh is pending, then the access token, then the
// derived (or static) password.
func (s *Session) password() string {
	if s.pendingRefresh && s.refreshToken != "" {
		return s.refreshToken
	}
	if s.accessToken != "" {
		return s.accessToken
	}
	return s.creds.Password
}

func (s *Session) clientOptions() *pahomqtt.ClientOptions {
	s.mu.Lock()
	clientID := s.creds.ClientID
	username := s.creds.Username
	password := s.password()
	s.mu.Unlock()

	scheme := "ssl"
	if s.opts.DisableTLS {
		scheme = "tcp"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, s.host, s.port)).
		SetClientID(clientID).
		SetUsername(username).
		SetPassword(password).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			s.logger.Info("connected", "port", s.port)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			s.logger.Warn("connection lost", "err", err)
			s.mu.Lock()
			s.connected = false
			cb := s.opts.OnConnectionLost
			s.mu.Unlock()
			if cb != nil {
				cb(err)
			}
		})

	if !s.opts.DisableTLS {
		opts.SetTLSConfig(s.tlsConfig())
	}
	return opts
}

// tlsConfig never verifies the broker chain: every TV ships a
// self-signed certificate. A client pair is presented when configured.
func (s *Session) tlsConfig() *tls.Config {
	cfg := &tls.Config{InsecureSkipVerify: true}
	if s.opts.CertFile != "" && s.opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.opts.CertFile, s.opts.KeyFile)
		if err != nil {
			s.logger.Warn("client certificate unusable, continuing without", "err", err)
			return cfg
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg
}

// Connect opens the transport and waits up to timeout for the broker
// acknowledgment. With autoRefresh, a pending token refresh runs right
// after connecting. With tryFallback, a failed attempt walks the
// remaining credential generations when the protocol version was never
// detected; false is returned only once every generation failed.
func (s *Session) Connect(timeout time.Duration, autoRefresh, tryFallback bool) bool {
	s.ensureIdentity()

	if s.connectAttempt(timeout, autoRefresh) {
		return true
	}

	s.mu.Lock()
	detected := s.detected
	tried := s.generation
	s.mu.Unlock()
	if !tryFallback || detected || s.opts.DeviceID == "" {
		return false
	}

	for _, gen := range credentials.FallbackOrder() {
		if gen == tried {
			continue
		}
		s.logger.Info("trying fallback generation", "generation", gen.String())
		s.applyGeneration(gen)
		if s.connectAttempt(timeout, autoRefresh) {
			return true
		}
	}

	s.logger.Error("all credential generations failed")
	return false
}

func (s *Session) connectAttempt(timeout time.Duration, autoRefresh bool) bool {
	client := s.newClient(s.clientOptions())

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	tok := client.Connect()
	if !tok.WaitTimeout(timeout) {
		s.logger.Warn("connect timeout", "generation", s.Generation().String())
		client.Disconnect(0)
		return false
	}
	if err := tok.Error(); err != nil {
		s.logger.Warn("connect failed", "generation", s.Generation().String(), "err", err)
		return false
	}

	s.mu.Lock()
	s.connected = true
	if s.accessToken != "" {
		s.authenticated = true
	}
	pending := s.pendingRefresh
	s.mu.Unlock()

	s.subscribeAll(client)

	if autoRefresh && pending {
		if !s.RefreshToken(timeout) {
			s.logger.Warn("token refresh failed, connection may not work")
		}
	}
	return true
}

func (s *Session) subscribeAll(client mqttClient) {
	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	}
	for _, t := range []string{
		topicBroadcastState,
		topicBroadcastVolume,
		s.topic(topicRespSources),
		s.topic(topicRespApps),
		s.topic(topicRespAuth),
		s.topic(topicRespAuthCode),
		s.topic(topicRespToken),
		s.topic(topicRespVolume),
		s.topic(topicRespTVInfo),
		s.topic(topicRespDeviceInfo),
		s.topic(topicRespCapability),
	} {
		client.Subscribe(t, 0, handler)
	}
}

// Disconnect closes the transport. The session can be reconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	client := s.client
	s.connected = false
	s.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
}

// IsConnected reports whether the transport is up.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// IsAuthenticated reports whether the TV accepted our identity.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// NeedsAuthentication reports whether the TV is asking for a PIN.
func (s *Session) NeedsAuthentication() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authRequired
}

// ClientID returns the active MQTT client identity.
func (s *Session) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.ClientID
}

// Generation returns the credential generation in use.
func (s *Session) Generation() credentials.Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// ProtocolVersion returns the detected transport protocol version, or 0.
func (s *Session) ProtocolVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// Host returns the TV address this session targets.
func (s *Session) Host() string { return s.host }

// DeviceID returns the configured MAC, normalized, or "".
func (s *Session) DeviceID() string {
	if s.opts.DeviceID == "" {
		return ""
	}
	return credentials.NormalizeMAC(s.opts.DeviceID)
}

// handleMessage is the single inbound dispatch path. Broadcast topics
// only feed the cached snapshot and callbacks; they can never complete
// a pending request correlation.
func (s *Session) handleMessage(topic string, payload []byte) {
	switch {
	case strings.HasPrefix(topic, broadcastPrefix):
		s.handleBroadcast(topic, payload)
	case topic == s.topic(topicRespToken):
		s.handleToken(payload)
	case topic == s.topic(topicRespAuth), topic == s.topic(topicRespAuthCode):
		s.handleAuth(payload)
	default:
		s.mu.Lock()
		ch := s.waiters[topic]
		s.mu.Unlock()
		if ch == nil {
			s.logger.Debug("unmatched response", "topic", topic)
			return
		}
		select {
		case ch <- payload:
		default:
		}
	}
}

func (s *Session) handleBroadcast(topic string, payload []byte) {
	switch topic {
	case topicBroadcastState:
		var state map[string]any
		if err := json.Unmarshal(payload, &state); err != nil {
			s.logger.Debug("undecodable state broadcast", "err", err)
			return
		}
		s.mu.Lock()
		s.state = state
		s.stateRaw = append([]byte(nil), payload...)
		authNeeded := state["statetype"] == "authentication"
		if authNeeded {
			s.authRequired = true
		}
		s.mu.Unlock()
		if authNeeded && s.opts.OnAuthRequired != nil {
			s.opts.OnAuthRequired()
		}
		if s.opts.OnState != nil {
			s.opts.OnState(state)
		}

	case topicBroadcastVolume:
		var vol struct {
			Type  int `json:"volume_type"`
			Value int `json:"volume_value"`
		}
		if err := json.Unmarshal(payload, &vol); err != nil {
			return
		}
		s.mu.Lock()
		s.volume = vol.Value
		s.hasVolume = true
		s.mu.Unlock()
		if s.opts.OnVolume != nil {
			s.opts.OnVolume(vol.Value)
		}
	}
}

func (s *Session) handleAuth(payload []byte) {
	var resp struct {
		Result    *int   `json:"result"`
		StateType string `json:"statetype"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		s.logger.Debug("undecodable auth response", "err", err)
		return
	}

	if resp.Result != nil {
		accepted := *resp.Result == 1
		s.mu.Lock()
		if accepted {
			s.authenticated = true
			s.authRequired = false
		}
		ch := s.authWaiter
		s.mu.Unlock()
		if ch != nil {
			select {
			case ch <- accepted:
			default:
			}
		}
		return
	}

	if resp.StateType == "authenticationcode" {
		s.mu.Lock()
		s.authRequired = true
		s.mu.Unlock()
		if s.opts.OnAuthRequired != nil {
			s.opts.OnAuthRequired()
		}
	}
}

type tokenPayload struct {
	AccessToken        string `json:"accesstoken"`
	RefreshToken       string `json:"refreshtoken"`
	AccessDurationDay  int    `json:"accesstoken_duration_day"`
	RefreshDurationDay int    `json:"refreshtoken_duration_day"`
}

func (s *Session) handleToken(payload []byte) {
	var tok tokenPayload
	if err := json.Unmarshal(payload, &tok); err != nil {
		s.logger.Debug("undecodable token response", "err", err)
		return
	}
	if tok.AccessToken == "" {
		return
	}

	s.mu.Lock()
	s.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	}
	s.authenticated = true
	s.authRequired = false
	rec := &token.Record{
		DeviceID:        s.deviceKey(),
		AccessToken:     tok.AccessToken,
		RefreshToken:    s.refreshToken,
		ClientID:        s.creds.ClientID,
		MQTTUsername:    s.creds.Username,
		UUID:            s.DeviceID(),
		Host:            s.host,
		Port:            s.port,
		AuthMethod:      s.generation.String(),
		ProtocolVersion: s.protocolVersion,
	}
	ch := s.tokenWaiter
	s.mu.Unlock()

	s.persistToken(rec, &tok)

	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Session) persistToken(rec *token.Record, tok *tokenPayload) {
	if s.store == nil {
		return
	}
	accessTTL := token.DefaultAccessTTL
	if tok.AccessDurationDay > 0 {
		accessTTL = time.Duration(tok.AccessDurationDay) * 24 * time.Hour
	}
	refreshTTL := token.DefaultRefreshTTL
	if tok.RefreshDurationDay > 0 {
		refreshTTL = time.Duration(tok.RefreshDurationDay) * 24 * time.Hour
	}
	rec.Stamp(time.Now(), accessTTL, refreshTTL)

	if err := s.store.Save(rec); err != nil {
		s.logger.Warn("token save failed", "err", err)
		return
	}
	s.logger.Info("token saved", "device", rec.DeviceID)
}

// publish sends one message to the TV. Commands issued while
// disconnected are rejected without side effects.
func (s *Session) publish(topic string, payload any) bool {
	s.mu.Lock()
	client, connected := s.client, s.connected
	s.mu.Unlock()
	if !connected || client == nil {
		s.logger.Warn("not connected, dropping command", "topic", topic)
		return false
	}

	var body []byte
	switch p := payload.(type) {
	case string:
		body = []byte(p)
	case []byte:
		body = p
	default:
		var err error
		body, err = json.Marshal(p)
		if err != nil {
			s.logger.Error("unencodable payload", "topic", topic, "err", err)
			return false
		}
	}

	tok := client.Publish(topic, 0, false, body)
	if !tok.WaitTimeout(publishTimeout) {
		s.logger.Warn("publish timeout", "topic", topic)
		return false
	}
	if err := tok.Error(); err != nil {
		s.logger.Error("publish failed", "topic", topic, "err", err)
		return false
	}
	return true
}

// request publishes a command and waits for a response on its dedicated
// response topic. The waiter is registered before publishing so a fast
// answer cannot be lost; a response arriving after timeout is dropped.
func (s *Session) request(cmdTemplate, respTemplate string, payload any, timeout time.Duration) ([]byte, bool) {
	respTopic := s.topic(respTemplate)
	ch := make(chan []byte, 1)

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		s.logger.Warn("not connected, dropping request", "topic", cmdTemplate)
		return nil, false
	}
	s.waiters[respTopic] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, respTopic)
		s.mu.Unlock()
	}()

	if !s.publish(s.topic(cmdTemplate), payload) {
		return nil, false
	}

	select {
	case data := <-ch:
		return data, true
	case <-time.After(timeout):
		s.logger.Debug("request timeout", "topic", respTopic)
		return nil, false
	}
}

// StartPairing asks the TV to display a pairing PIN on screen. It only
// reports whether the request was sent; the PIN never reaches us.
// Safe to call repeatedly.
func (s *Session) StartPairing() bool {
	return s.publish(s.topic(topicAppConnect), map[string]any{
		"app_version":    2,
		"connect_result": 0,
		"device_type":    "Mobile App",
	})
}

// Authenticate submits the on-screen PIN and, once accepted, requests
// token issuance and waits for the token to arrive. The firmware
// requires the PIN as a JSON number; strings are silently ignored.
func (s *Session) Authenticate(pin string, timeout time.Duration) bool {
	pinNum, err := strconv.Atoi(strings.TrimSpace(pin))
	if err != nil {
		s.logger.Error("invalid pin", "pin", pin)
		return false
	}

	authCh := make(chan bool, 1)
	tokenCh := make(chan struct{}, 1)
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return false
	}
	s.authWaiter = authCh
	s.tokenWaiter = tokenCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.authWaiter = nil
		s.tokenWaiter = nil
		s.mu.Unlock()
	}()

	if !s.publish(s.topic(topicAuth), map[string]any{"authNum": pinNum}) {
		return false
	}

	select {
	case accepted := <-authCh:
		if !accepted {
			s.logger.Warn("pin rejected")
			return false
		}
	case <-time.After(timeout):
		s.logger.Warn("no answer to pin")
		return false
	}

	// PIN accepted: request the token pair and dismiss the dialog.
	s.publish(s.topic(topicGetToken), map[string]string{"refreshtoken": ""})
	s.publish(s.topic(topicAuthClose), "")

	select {
	case <-tokenCh:
		return true
	case <-time.After(timeout):
		s.logger.Warn("token never arrived after pin accept")
		return false
	}
}

// RefreshToken exchanges the stored refresh token for a fresh access
// token on the issuance topic. On success the new access token becomes
// the connection password; on failure the previous credentials are left
// untouched and the caller needs re-pairing.
func (s *Session) RefreshToken(timeout time.Duration) bool {
	tokenCh := make(chan struct{}, 1)
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		s.logger.Warn("must be connected to refresh token")
		return false
	}
	refresh := s.refreshToken
	if refresh == "" {
		s.mu.Unlock()
		s.logger.Warn("no refresh token available")
		return false
	}
	s.tokenWaiter = tokenCh
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.tokenWaiter = nil
		s.mu.Unlock()
	}()

	if !s.publish(s.topic(topicGetToken), map[string]string{"refreshtoken": refresh}) {
		return false
	}

	select {
	case <-tokenCh:
		s.mu.Lock()
		s.creds.Password = s.accessToken
		s.pendingRefresh = false
		s.mu.Unlock()
		s.logger.Info("token refreshed")
		return true
	case <-time.After(timeout):
		s.logger.Warn("token refresh timed out")
		return false
	}
}

// ClearSavedToken drops the persisted token record and the session's
// in-memory tokens. The next connect requires pairing.
func (s *Session) ClearSavedToken() {
	if s.store != nil {
		if err := s.store.Delete(s.deviceKey(), s.host, s.port); err != nil {
			s.logger.Warn("token delete failed", "err", err)
		}
	}
	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.authenticated = false
	s.pendingRefresh = false
	s.mu.Unlock()
}

// TokenStatus reports the stored token bookkeeping for this TV.
func (s *Session) TokenStatus() token.Status {
	if s.store == nil {
		return token.Status{NeedsReauth: true}
	}
	return s.store.Status(s.deviceKey(), s.host, s.port)
}

// SendKey sends one remote key press, fire and forget.
func (s *Session) SendKey(key string) bool {
	return s.publish(s.topic(topicSendKey), key)
}

// SendKeyChecked sends a key only while the TV is awake. The power key
// is exempt so a sleeping TV can still be woken.
func (s *Session) SendKeyChecked(key string) bool {
	if key != KeyPower && !s.IsOn() {
		s.logger.Debug("tv asleep, suppressing key", "key", key)
		return false
	}
	return s.SendKey(key)
}

// Awake reports whether a state document describes a powered-on panel.
// Standby TVs keep the broker up and answer with a fake-sleep statetype.
func Awake(state map[string]any) bool {
	if state == nil {
		return false
	}
	return state["statetype"] != stateFakeSleep
}

// IsOn queries the TV state and reports whether it is awake.
func (s *Session) IsOn() bool {
	return Awake(s.GetState(s.stateTimeout))
}

// PowerToggle sends the power key unconditionally.
func (s *Session) PowerToggle() bool {
	return s.SendKey(KeyPower)
}

// PowerOn wakes the TV if it reports fake sleep. When the state is
// unknown the key is sent anyway: worst case the TV was already on.
func (s *Session) PowerOn() bool {
	state := s.GetState(s.stateTimeout)
	if state == nil {
		return s.SendKey(KeyPower)
	}
	if state["statetype"] == stateFakeSleep {
		return s.SendKey(KeyPower)
	}
	s.logger.Debug("tv already on")
	return true
}

// PowerOff sends power only when the TV is confirmed awake. With no
// state at all the key is withheld, since it could turn the TV on.
func (s *Session) PowerOff() bool {
	state := s.GetState(s.stateTimeout)
	if state == nil {
		s.logger.Warn("tv state unknown, not sending power")
		return false
	}
	if state["statetype"] != stateFakeSleep {
		return s.SendKey(KeyPower)
	}
	s.logger.Debug("tv already off")
	return true
}

// GetState re-triggers a state broadcast and polls the cached snapshot
// until it differs from the pre-call snapshot or timeout elapses. The
// result may be stale when nothing changed in time; callers re-query
// after commands instead of trusting one snapshot.
func (s *Session) GetState(timeout time.Duration) map[string]any {
	s.mu.Lock()
	before := s.stateRaw
	s.mu.Unlock()

	s.publish(s.topic(topicGetState), "")

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if s.state != nil && !bytes.Equal(s.stateRaw, before) {
			state := s.state
			s.mu.Unlock()
			return state
		}
		s.mu.Unlock()
		time.Sleep(statePollInterval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// State returns the last broadcast state snapshot without touching the
// network.
func (s *Session) State() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GetVolume queries the current volume level.
func (s *Session) GetVolume(timeout time.Duration) (int, bool) {
	data, ok := s.request(topicGetVolume, topicRespVolume, "", timeout)
	if !ok {
		return 0, false
	}
	var vol struct {
		Value int `json:"volume_value"`
	}
	if err := json.Unmarshal(data, &vol); err != nil {
		s.logger.Debug("undecodable volume response", "err", err)
		return 0, false
	}
	s.mu.Lock()
	s.volume = vol.Value
	s.hasVolume = true
	s.mu.Unlock()
	return vol.Value, true
}

// Volume returns the last broadcast volume level, if any was seen.
func (s *Session) Volume() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume, s.hasVolume
}

// SetVolume sets the absolute volume level, clamped to 0..100.
func (s *Session) SetVolume(level int) bool {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return s.publish(s.topic(topicSetVolume), strconv.Itoa(level))
}

// VolumeUp steps the volume up one notch.
func (s *Session) VolumeUp() bool { return s.SendKey(KeyVolumeUp) }

// VolumeDown steps the volume down one notch.
func (s *Session) VolumeDown() bool { return s.SendKey(KeyVolumeDown) }

// Mute toggles mute.
func (s *Session) Mute() bool { return s.SendKey(KeyMute) }

// Source is one selectable input.
type Source struct {
	ID          string `json:"sourceid"`
	Name        string `json:"sourcename"`
	DisplayName string `json:"displayname"`
}

// GetSources queries the selectable input list.
func (s *Session) GetSources(timeout time.Duration) ([]Source, bool) {
	data, ok := s.request(topicGetSources, topicRespSources, "", timeout)
	if !ok {
		return nil, false
	}
	var sources []Source
	if err := json.Unmarshal(data, &sources); err != nil {
		s.logger.Debug("undecodable source list", "err", err)
		return nil, false
	}
	return sources, true
}

// SetSource switches input by friendly name ("hdmi1", "tv") or raw
// source identifier.
func (s *Session) SetSource(source string) bool {
	return s.publish(s.topic(topicSetSource), map[string]string{"sourceid": SourceID(source)})
}

// GetApps queries the installed app list.
func (s *Session) GetApps(timeout time.Duration) ([]App, bool) {
	data, ok := s.request(topicGetApps, topicRespApps, "", timeout)
	if !ok {
		return nil, false
	}
	var apps []App
	if err := json.Unmarshal(data, &apps); err != nil {
		s.logger.Debug("undecodable app list", "err", err)
		return nil, false
	}
	return apps, true
}

// LaunchApp starts an app by name: the built-in catalog is consulted
// first, then the device app list, matched case-insensitively. An
// unresolvable name fails without publishing anything.
func (s *Session) LaunchApp(name string) bool {
	if app, ok := BuiltinApp(name); ok {
		return s.LaunchAppRecord(app)
	}
	apps, ok := s.GetApps(5 * time.Second)
	if !ok {
		s.logger.Warn("could not fetch app list", "app", name)
		return false
	}
	app, found := findApp(apps, name)
	if !found {
		s.logger.Warn("app not found", "app", name)
		return false
	}
	return s.LaunchAppRecord(app)
}

// LaunchAppRecord starts an app from an explicit record.
func (s *Session) LaunchAppRecord(app App) bool {
	return s.publish(s.topic(topicLaunchApp), map[string]string{
		"appId": app.ID,
		"name":  app.Name,
		"url":   app.URL,
	})
}

// GetTVInfo queries platform details (chip platform, brand, features).
func (s *Session) GetTVInfo(timeout time.Duration) (map[string]any, bool) {
	return s.requestMap(topicGetTVInfo, topicRespTVInfo, timeout)
}

// GetDeviceInfo queries device identity (model name, TV name, version).
func (s *Session) GetDeviceInfo(timeout time.Duration) (map[string]any, bool) {
	return s.requestMap(topicGetDeviceInfo, topicRespDeviceInfo, timeout)
}

// GetCapability queries software versions and feature flags.
func (s *Session) GetCapability(timeout time.Duration) (map[string]any, bool) {
	return s.requestMap(topicGetCapability, topicRespCapability, timeout)
}

func (s *Session) requestMap(cmdTemplate, respTemplate string, timeout time.Duration) (map[string]any, bool) {
	data, ok := s.request(cmdTemplate, respTemplate, "", timeout)
	if !ok {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"raw": string(data)}, true
	}
	return m, true
}

