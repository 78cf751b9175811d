package bridge

import (
	"fmt"
	"log/slog"
	"sync"

	"vidaa-home/internal/credentials"
	"vidaa-home/internal/token"
	"vidaa-home/internal/vidaa"
)

// TVConfig describes one television the bridge manages.
type TVConfig struct {
	Name string // display name; the topic segment is its sanitized form
	Host string
	Port int

	// MAC enables dynamic credential derivation and Wake-on-LAN.
	// Without it the session is limited to the static identity only
	// very old firmware accepts.
	MAC   string
	Brand string

	// Generation pins the credential algorithm: "legacy", "middle" or
	// "modern". Empty means detect from the device descriptor.
	Generation string

	DisableTLS bool
	CertFile   string
	KeyFile    string
}

// TV is one managed television: a session plus its serializing worker.
type TV struct {
	cfg  TVConfig
	name string // sanitized topic segment

	session *vidaa.Session
	async   *vidaa.Async

	// lost is signalled by the session's connection-lost callback.
	lost chan struct{}

	mu        sync.Mutex
	connected bool
}

// newTV builds the session and worker for one configured TV and wires
// its callbacks into the bridge.
func (b *Bridge) newTV(cfg TVConfig, store token.Store, logger *slog.Logger) (*TV, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("tv %q: host is required", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Host
	}

	tv := &TV{
		cfg:  cfg,
		name: tvTopicName(cfg.Name),
		lost: make(chan struct{}, 1),
	}

	opts := vidaa.Options{
		Host:       cfg.Host,
		Port:       cfg.Port,
		DeviceID:   cfg.MAC,
		Brand:      cfg.Brand,
		DisableTLS: cfg.DisableTLS,
		CertFile:   cfg.CertFile,
		KeyFile:    cfg.KeyFile,
		Store:      store,
		Logger:     logger,
		OnState: func(state map[string]any) {
			b.applyState(tv, state)
		},
		OnVolume: func(level int) {
			b.applyVolume(tv, level)
		},
		OnAuthRequired: func() {
			b.logger.Warn("tv is showing a pairing code", "tv", tv.name)
			b.events.Emit(Event{Type: EventAuthRequired, Device: tv.name})
		},
		OnConnectionLost: func(err error) {
			select {
			case tv.lost <- struct{}{}:
			default:
			}
		},
	}
	if cfg.Generation != "" {
		gen := credentials.ParseGeneration(cfg.Generation)
		opts.Generation = &gen
	}

	tv.session = vidaa.NewSession(opts)
	tv.async = vidaa.NewAsync(tv.session, 0, logger)
	return tv, nil
}

// Name returns the TV's topic name.
func (t *TV) Name() string { return t.name }

// Host returns the configured host.
func (t *TV) Host() string { return t.cfg.Host }

// MAC returns the configured MAC address, possibly empty.
func (t *TV) MAC() string { return t.cfg.MAC }

// Connected reports whether the bridge currently has a live session.
func (t *TV) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *TV) setConnected(v bool) {
	t.mu.Lock()
	t.connected = v
	t.mu.Unlock()
}

// Session exposes the underlying session for non-blocking reads.
// Blocking calls belong on Async.
func (t *TV) Session() *vidaa.Session { return t.session }

// Async returns the TV's serializing worker.
func (t *TV) Async() *vidaa.Async { return t.async }
