package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/callzhang/hypo"
	"github.com/callzhang/hypo/internal/crypto"
	"github.com/callzhang/hypo/keystore"
)

// Environment variable names that select the files Load reads.
const (
	EnvConfigFile = "HYPO_CONFIG"
	EnvDotEnvFile = "HYPO_ENV_FILE"

	defaultDotEnv = ".env"
)

// Well-known simulator devices. They are only defaults; nothing in the
// protocol packages knows about them.
const (
	DefaultDeviceID   = "c7bd7e23-b5c1-4dfd-bb62-6a3b7c880760"
	DefaultDeviceName = "Xiaomi 2410DPN6CC"
	DefaultPeerID     = "007E4A95-0E1A-4B10-91FA-87942EFAA68E"
)

// Config is the full simulator configuration.
type Config struct {
	// Device is the identity the simulator sends as.
	Device DeviceConfig `yaml:"device"`

	// Peer is the paired device. Its id selects the sealing key and is the
	// default target.
	Peer PeerConfig `yaml:"peer"`

	// Transport selects LAN or relay and their endpoints.
	Transport TransportConfig `yaml:"transport"`

	// KeysFile is a YAML or JSON key file loaded into the key store.
	KeysFile string `yaml:"keys_file"`

	// Plaintext sends without encryption. For peers that are not paired.
	Plaintext bool `yaml:"plaintext"`

	// Timeout bounds connecting and, for send, waiting for a reply.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	Log LogConfig `yaml:"log"`
}

// DeviceConfig describes the local device.
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Platform string `yaml:"platform"`
	// SessionID overrides X-Device-Id on the relay. Empty means ID.
	SessionID string `yaml:"session_id"`
}

// PeerConfig describes the paired device.
type PeerConfig struct {
	ID string `yaml:"id"`
	// Key is the shared pairing key, base64 or hex. It is filed under ID
	// on top of anything in KeysFile.
	Key string `yaml:"key"`
}

// TransportConfig selects where envelopes go.
type TransportConfig struct {
	// Mode is "lan" or "relay".
	// Default: lan
	Mode string `yaml:"mode"`

	LANHost string `yaml:"lan_host"`
	LANPort int    `yaml:"lan_port"`
	// Listen is the address hypo-sim listen binds.
	// Default: :7010
	Listen string `yaml:"listen"`

	RelayURL      string `yaml:"relay_url"`
	Environment   string `yaml:"environment"`
	ClientVersion string `yaml:"client_version"`
	ForceRegister bool   `yaml:"force_register"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Transport modes.
const (
	ModeLAN   = "lan"
	ModeRelay = "relay"
)

// Default returns the configuration used before any layer is applied.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:       DefaultDeviceID,
			Name:     DefaultDeviceName,
			Platform: "android",
		},
		Peer: PeerConfig{ID: DefaultPeerID},
		Transport: TransportConfig{
			Mode:          ModeLAN,
			LANHost:       "localhost",
			LANPort:       hypo.DefaultLANPort,
			Listen:        ":" + strconv.Itoa(hypo.DefaultLANPort),
			RelayURL:      hypo.DefaultRelayURL,
			ClientVersion: hypo.DefaultClientVersion,
		},
		Timeout: 10 * time.Second,
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// setting binds one field to its flag and environment variable.
type setting struct {
	flag  string
	env   string
	usage string
	field func(*Config) any
}

var settings = []setting{
	{"device-id", "HYPO_DEVICE_ID", "local device id, also the AAD", func(c *Config) any { return &c.Device.ID }},
	{"device-name", "HYPO_DEVICE_NAME", "local device name", func(c *Config) any { return &c.Device.Name }},
	{"platform", "HYPO_DEVICE_PLATFORM", "local device platform", func(c *Config) any { return &c.Device.Platform }},
	{"session-id", "HYPO_SESSION_ID", "relay session id (default: device id)", func(c *Config) any { return &c.Device.SessionID }},
	{"peer", "HYPO_PEER_ID", "paired device id", func(c *Config) any { return &c.Peer.ID }},
	{"key", "HYPO_KEY", "pairing key for the peer, base64 or hex", func(c *Config) any { return &c.Peer.Key }},
	{"keys", "HYPO_KEYS_FILE", "key file (YAML or JSON)", func(c *Config) any { return &c.KeysFile }},
	{"mode", "HYPO_MODE", "transport: lan or relay", func(c *Config) any { return &c.Transport.Mode }},
	{"host", "HYPO_LAN_HOST", "LAN peer host", func(c *Config) any { return &c.Transport.LANHost }},
	{"port", "HYPO_LAN_PORT", "LAN peer port", func(c *Config) any { return &c.Transport.LANPort }},
	{"listen", "HYPO_LISTEN", "listen address", func(c *Config) any { return &c.Transport.Listen }},
	{"relay", "HYPO_RELAY_URL", "relay websocket URL", func(c *Config) any { return &c.Transport.RelayURL }},
	{"environment", "HYPO_ENVIRONMENT", "X-Hypo-Environment header", func(c *Config) any { return &c.Transport.Environment }},
	{"client-version", "HYPO_CLIENT_VERSION", "X-Hypo-Client header", func(c *Config) any { return &c.Transport.ClientVersion }},
	{"force-register", "HYPO_FORCE_REGISTER", "replace an existing session with the same device id", func(c *Config) any { return &c.Transport.ForceRegister }},
	{"plaintext", "HYPO_PLAINTEXT", "send without encryption", func(c *Config) any { return &c.Plaintext }},
	{"timeout", "HYPO_TIMEOUT", "connect and reply timeout", func(c *Config) any { return &c.Timeout }},
	{"log-level", "HYPO_LOG_LEVEL", "debug, info, warn or error", func(c *Config) any { return &c.Log.Level }},
	{"log-format", "HYPO_LOG_FORMAT", "text or json", func(c *Config) any { return &c.Log.Format }},
}

// Flags holds the parsed flag set and the file locations it named.
type Flags struct {
	set        *pflag.FlagSet
	shadow     *Config
	configFile string
	envFile    string
}

// AddFlags registers the shared flags on set. Command-specific flags may
// be added to set before or after.
func AddFlags(set *pflag.FlagSet) *Flags {
	f := &Flags{set: set, shadow: Default()}
	set.StringVar(&f.configFile, "config", "", "YAML config file (env "+EnvConfigFile+")")
	set.StringVar(&f.envFile, "env-file", "", "dotenv file (env "+EnvDotEnvFile+", default ./.env)")

	for _, s := range settings {
		usage := s.usage + " (env " + s.env + ")"
		switch p := s.field(f.shadow).(type) {
		case *string:
			set.StringVar(p, s.flag, *p, usage)
		case *bool:
			set.BoolVar(p, s.flag, *p, usage)
		case *int:
			set.IntVar(p, s.flag, *p, usage)
		case *time.Duration:
			set.DurationVar(p, s.flag, *p, usage)
		}
	}
	return f
}

// Load applies every layer in order. The flag set must already be parsed.
func (f *Flags) Load(getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	path := f.configFile
	if path == "" {
		path = getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	dotenv, err := readDotEnv(f.envFile, getenv)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	var errs []error
	for _, s := range settings {
		v := lookup(s.env)
		if v == "" {
			continue
		}
		if err := assign(s.field(cfg), v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.env, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	byFlag := make(map[string]setting, len(settings))
	for _, s := range settings {
		byFlag[s.flag] = s
	}
	f.set.Visit(func(fl *pflag.Flag) {
		s, ok := byFlag[fl.Name]
		if !ok {
			return
		}
		// Flag values were already validated by pflag.
		_ = assign(s.field(cfg), fl.Value.String())
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load parses args with the shared flags and applies every layer.
func Load(args []string, getenv func(string) string) (*Config, error) {
	set := pflag.NewFlagSet("hypo-sim", pflag.ContinueOnError)
	set.SetOutput(io.Discard)
	f := AddFlags(set)
	if err := set.Parse(args); err != nil {
		return nil, err
	}
	return f.Load(getenv)
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

func readDotEnv(path string, getenv func(string) string) (map[string]string, error) {
	explicit := true
	if path == "" {
		path = getenv(EnvDotEnvFile)
	}
	if path == "" {
		path, explicit = defaultDotEnv, false
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	return values, nil
}

func assign(field any, v string) error {
	switch p := field.(type) {
	case *string:
		*p = v
	case *bool:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
	case *int:
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
	case *time.Duration:
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
	default:
		return fmt.Errorf("unsupported field type %T", field)
	}
	return nil
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Device.ID == "" {
		errs = append(errs, errors.New("device.id is required"))
	}
	if c.Device.Platform == "" {
		errs = append(errs, errors.New("device.platform is required"))
	}
	if !c.Plaintext && c.Peer.ID == "" {
		errs = append(errs, errors.New("peer.id is required unless plaintext is set"))
	}
	if c.Peer.Key != "" {
		if _, err := decodeKey(c.Peer.Key); err != nil {
			errs = append(errs, fmt.Errorf("peer.key: %w", err))
		}
	}

	switch c.Transport.Mode {
	case ModeLAN:
		if c.Transport.LANHost == "" {
			errs = append(errs, errors.New("transport.lan_host is required"))
		}
		if c.Transport.LANPort <= 0 || c.Transport.LANPort > 65535 {
			errs = append(errs, fmt.Errorf("transport.lan_port out of range: %d", c.Transport.LANPort))
		}
	case ModeRelay:
		u, err := url.Parse(c.Transport.RelayURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Errorf("transport.relay_url must be a ws:// or wss:// URL: %q", c.Transport.RelayURL))
		}
	default:
		errs = append(errs, fmt.Errorf("transport.mode must be one of: [%s %s]", ModeLAN, ModeRelay))
	}

	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive: %s", c.Timeout))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be one of: [text json]: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Local returns the device the simulator sends as.
func (c *Config) Local() hypo.Device {
	return hypo.Device{ID: c.Device.ID, Name: c.Device.Name, Platform: c.Device.Platform}
}

// URL returns the websocket endpoint for the selected transport.
func (c *Config) URL() string {
	if c.Transport.Mode == ModeRelay {
		return c.Transport.RelayURL
	}
	host := net.JoinHostPort(c.Transport.LANHost, strconv.Itoa(c.Transport.LANPort))
	return "ws://" + host + "/ws"
}

// ClientOptions returns the hypo.Client options implied by c.
func (c *Config) ClientOptions(logger *slog.Logger) []hypo.Option {
	opts := []hypo.Option{
		hypo.WithLogger(logger),
		hypo.WithHandshakeTimeout(c.Timeout),
		hypo.WithClientVersion(c.Transport.ClientVersion),
		hypo.WithForceRegister(c.Transport.ForceRegister),
	}
	if c.Device.SessionID != "" {
		opts = append(opts, hypo.WithSessionID(c.Device.SessionID))
	}
	if c.Transport.Environment != "" {
		opts = append(opts, hypo.WithEnvironment(c.Transport.Environment))
	}
	return opts
}

// KeyStore loads KeysFile, then files Peer.Key under Peer.ID.
func (c *Config) KeyStore() (*keystore.MemoryStore, error) {
	store := keystore.NewMemoryStore()
	if c.KeysFile != "" {
		loaded, err := keystore.LoadFile(c.KeysFile)
		if err != nil {
			return nil, err
		}
		store = loaded
	}

	if c.Peer.Key != "" {
		key, err := decodeKey(c.Peer.Key)
		if err != nil {
			return nil, fmt.Errorf("peer.key: %w", err)
		}
		store.Put(c.Peer.ID, key)
		crypto.Zero(key)
	}
	return store, nil
}

// decodeKey accepts 64 hex characters or standard base64.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var (
		key []byte
		err error
	)
	if len(s) == 2*crypto.AESKeySize {
		key, err = hex.DecodeString(s)
	} else {
		key, err = crypto.FromBase64(s)
	}
	if err != nil {
		return nil, err
	}
	if len(key) != crypto.AESKeySize {
		return nil, fmt.Errorf("%w: %d bytes", hypo.ErrInvalidKeyLength, len(key))
	}
	return key, nil
}

// Logger builds the slog logger described by Log, writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Log.Level))

	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
