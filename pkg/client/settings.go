package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/randchat/pkg/model"
	"github.com/NicolasHaas/randchat/pkg/protocol"
	"github.com/NicolasHaas/randchat/pkg/session"
	"github.com/NicolasHaas/randchat/pkg/store"
	"github.com/NicolasHaas/randchat/pkg/transport"
)

// Environment variables overriding the settings file.
const (
	EnvEnvironment = "RANDCHAT_ENV"
	EnvEndpoint    = "RANDCHAT_ENDPOINT"
)

// Environments.
const (
	EnvDev      = "dev"
	EnvDeployed = "deployed"
)

// DefaultDevEndpoint is the local development server.
const DefaultDevEndpoint = "ws://localhost:8000/ws/chat/"

// ErrNoEndpoint is returned when the deployed environment has no endpoint configured.
var ErrNoEndpoint = errors.New("client: no endpoint configured for the deployed environment")

// ReconnectSettings mirrors transport.ReconnectPolicy in YAML.
type ReconnectSettings struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// Settings stores user preferences persisted as YAML next to the binary.
type Settings struct {
	Environment            string            `yaml:"environment"`
	Endpoint               string            `yaml:"endpoint,omitempty"`
	DevEndpoint            string            `yaml:"dev_endpoint"`
	DefaultInterest        model.Interest    `yaml:"default_interest"`
	NotificationTimeout    time.Duration     `yaml:"notification_timeout"`
	AutoSearchOnDisconnect bool              `yaml:"auto_search_on_disconnect"`
	SkipTarget             string            `yaml:"skip_target"`
	SearchCommand          string            `yaml:"search_command"`
	LocalEcho              bool              `yaml:"local_echo"`
	Reconnect              ReconnectSettings `yaml:"reconnect"`
	Storage                string            `yaml:"storage"`
	StoragePath            string            `yaml:"storage_path,omitempty"`
	MetricsAddr            string            `yaml:"metrics_addr,omitempty"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		Environment:         EnvDev,
		DevEndpoint:         DefaultDevEndpoint,
		DefaultInterest:     model.InterestAny,
		NotificationTimeout: 5 * time.Second,
		SkipTarget:          string(session.SkipSelf),
		SearchCommand:       string(protocol.CommandSearch),
		LocalEcho:           true,
		Reconnect:           ReconnectSettings{MaxAttempts: 1},
		Storage:             store.BackendMemory,
	}
}

// DefaultSettingsPath returns settings.yaml next to the executable.
func DefaultSettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "settings.yaml")
}

// LoadSettings reads settings from path (DefaultSettingsPath when empty) and applies the
// environment overrides. A missing file yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = DefaultSettingsPath()
	}
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("client: read settings: %w", err)
	default:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("client: parse settings %s: %w", path, err)
		}
	}
	s.ApplyEnv()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes settings to YAML.
func (s *Settings) Save(path string) error {
	if path == "" {
		path = DefaultSettingsPath()
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ApplyEnv overrides the environment and endpoint from RANDCHAT_ENV and RANDCHAT_ENDPOINT.
func (s *Settings) ApplyEnv() {
	if v := os.Getenv(EnvEnvironment); v != "" {
		s.Environment = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		s.Endpoint = v
	}
}

// Validate reports settings that cannot be used.
func (s *Settings) Validate() error {
	switch s.Environment {
	case EnvDev, EnvDeployed:
	default:
		return fmt.Errorf("client: unknown environment %q (valid: dev, deployed)", s.Environment)
	}
	if !s.DefaultInterest.Valid() {
		return fmt.Errorf("client: default_interest: %w", model.ErrUnknownInterest)
	}
	if err := s.SessionPolicy().Validate(); err != nil {
		return err
	}
	if s.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("client: reconnect.max_attempts must not be negative")
	}
	switch s.Storage {
	case store.BackendMemory, store.BackendSQLite:
	default:
		return fmt.Errorf("client: unknown storage %q (valid: memory, sqlite)", s.Storage)
	}
	return nil
}

// ResolveEndpoint picks the websocket endpoint. An explicit endpoint wins; otherwise the
// dev environment uses the dev endpoint and the deployed one has none.
func (s *Settings) ResolveEndpoint() (string, error) {
	if s.Endpoint != "" {
		return s.Endpoint, nil
	}
	if s.Environment == EnvDeployed {
		return "", ErrNoEndpoint
	}
	if s.DevEndpoint != "" {
		return s.DevEndpoint, nil
	}
	return DefaultDevEndpoint, nil
}

// SessionPolicy returns the protocol revision choices.
func (s *Settings) SessionPolicy() session.Policy {
	return session.Policy{
		AutoSearchOnDisconnect: s.AutoSearchOnDisconnect,
		SkipTarget:             session.SkipTarget(s.SkipTarget),
		SearchCommand:          protocol.CommandType(s.SearchCommand),
		LocalEcho:              s.LocalEcho,
	}
}

// ReconnectPolicy returns the transport's reconnect policy.
func (s *Settings) ReconnectPolicy() transport.ReconnectPolicy {
	return transport.ReconnectPolicy{
		MaxAttempts:    s.Reconnect.MaxAttempts,
		InitialBackoff: s.Reconnect.InitialBackoff,
		MaxBackoff:     s.Reconnect.MaxBackoff,
		Multiplier:     s.Reconnect.Multiplier,
	}
}

// OpenStore opens the configured profile store. A relative sqlite path is placed next to
// the settings file's directory.
func (s *Settings) OpenStore(baseDir string) (store.ProfileStore, error) {
	path := s.StoragePath
	if s.Storage == store.BackendSQLite {
		if path == "" {
			path = "randchat.db"
		}
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
	}
	return store.Open(s.Storage, path)
}

// EngineConfig assembles an engine configuration from the settings.
func (s *Settings) EngineConfig(st store.ProfileStore, m *Metrics) (Config, error) {
	endpoint, err := s.ResolveEndpoint()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Endpoint:            endpoint,
		Policy:              s.SessionPolicy(),
		Reconnect:           s.ReconnectPolicy(),
		NotificationTimeout: s.NotificationTimeout,
		Store:               st,
		Metrics:             m,
	}, nil
}
