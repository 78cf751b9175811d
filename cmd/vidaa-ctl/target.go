package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vidaa-home/internal/credentials"
	"vidaa-home/internal/token"
	"vidaa-home/internal/vidaa"
)

// connFlags selects which TV a command talks to. Registered on every
// command's flag set so they always follow the subcommand.
type connFlags struct {
	tv      string
	ip      string
	config  string
	tokens  string
	timeout time.Duration
	verbose bool
}

func addConnFlags(fs *flag.FlagSet) *connFlags {
	c := &connFlags{}
	fs.StringVar(&c.tv, "tv", "", "named tv from the config file's tvs: map")
	fs.StringVar(&c.ip, "ip", "", "tv address, bypassing the config file")
	fs.StringVar(&c.config, "config", "config.yaml", "config file path")
	fs.StringVar(&c.tokens, "tokens", "", "token file path (default tokens.json)")
	fs.DurationVar(&c.timeout, "timeout", 5*time.Second, "connect timeout")
	fs.BoolVar(&c.verbose, "verbose", false, "log protocol details to stderr")
	return c
}

// target is the resolved TV a command operates on.
type target struct {
	name       string
	host       string
	port       int
	mac        string
	brand      string
	generation string
	disableTLS bool
	certFile   string
	keyFile    string
}

// tvEntry matches one television in the daemon's config file, so both
// programs read the same tvs: map.
type tvEntry struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	MAC        string `yaml:"mac"`
	Brand      string `yaml:"brand"`
	Generation string `yaml:"generation"`
	DisableTLS bool   `yaml:"disable_tls"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
}

type cliConfig struct {
	TVs map[string]tvEntry `yaml:"tvs"`
}

func loadCLIConfig(path string) (*cliConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg cliConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// resolveTarget picks the TV to talk to: -ip wins, then -tv, then the
// config file's sole entry.
func resolveTarget(c *connFlags) (target, error) {
	if c.ip != "" {
		return target{name: c.ip, host: c.ip}, nil
	}

	cfg, err := loadCLIConfig(c.config)
	if err != nil {
		if os.IsNotExist(err) {
			return target{}, fmt.Errorf("no tv selected: use -ip, or create %s with a tvs: map", c.config)
		}
		return target{}, err
	}

	names := make([]string, 0, len(cfg.TVs))
	for name := range cfg.TVs {
		names = append(names, name)
	}
	slices.Sort(names)

	name := c.tv
	switch {
	case name != "":
		if _, ok := cfg.TVs[name]; !ok {
			return target{}, fmt.Errorf("tv %q not in %s (have: %s)", name, c.config, strings.Join(names, ", "))
		}
	case len(names) == 1:
		name = names[0]
	case len(names) == 0:
		return target{}, fmt.Errorf("no tvs configured in %s", c.config)
	default:
		return target{}, fmt.Errorf("multiple tvs configured; pick one with -tv (%s)", strings.Join(names, ", "))
	}

	tv := cfg.TVs[name]
	if tv.Host == "" {
		return target{}, fmt.Errorf("tvs.%s.host is not set in %s", name, c.config)
	}
	return target{
		name:       name,
		host:       tv.Host,
		port:       tv.Port,
		mac:        tv.MAC,
		brand:      tv.Brand,
		generation: tv.Generation,
		disableTLS: tv.DisableTLS,
		certFile:   tv.CertFile,
		keyFile:    tv.KeyFile,
	}, nil
}

// cliLogger is quiet unless -verbose is given; command results go to
// stdout as plain text, not through the logger.
func cliLogger(verbose bool) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// sessionOptions builds the session options for a target. Callers that
// need event callbacks set them on the result before NewSession.
func sessionOptions(c *connFlags, t target) (vidaa.Options, error) {
	store, err := token.NewFileStore(c.tokens)
	if err != nil {
		return vidaa.Options{}, fmt.Errorf("open token file: %w", err)
	}

	opts := vidaa.Options{
		Host:       t.host,
		Port:       t.port,
		DeviceID:   t.mac,
		Brand:      t.brand,
		DisableTLS: t.disableTLS,
		CertFile:   t.certFile,
		KeyFile:    t.keyFile,
		Store:      store,
		Logger:     cliLogger(c.verbose),
	}
	if t.generation != "" {
		gen := credentials.ParseGeneration(t.generation)
		opts.Generation = &gen
	}
	return opts, nil
}

func newSession(c *connFlags, t target) (*vidaa.Session, error) {
	opts, err := sessionOptions(c, t)
	if err != nil {
		return nil, err
	}
	return vidaa.NewSession(opts), nil
}

// dial resolves the target and connects. The returned cleanup
// disconnects the session.
func dial(c *connFlags, autoRefresh bool) (*vidaa.Session, func(), error) {
	t, err := resolveTarget(c)
	if err != nil {
		return nil, nil, err
	}
	s, err := newSession(c, t)
	if err != nil {
		return nil, nil, err
	}
	if !s.Connect(c.timeout, autoRefresh, true) {
		return nil, nil, fmt.Errorf("could not connect to %s", t.host)
	}
	return s, func() { s.Disconnect() }, nil
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitConnectError
}
