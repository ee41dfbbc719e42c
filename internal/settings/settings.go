// Package settings holds the user-tunable knobs for the local host stack.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBindHost is where spawned servers listen.
	DefaultBindHost = "127.0.0.1"
	// DefaultClientHost is the host clients dial; it differs from the bind
	// host when listening on all interfaces.
	DefaultClientHost = "127.0.0.1"

	// DefaultStartTimeout bounds how long orchestrated startup may take.
	DefaultStartTimeout = 180 * time.Second
	// MinStartTimeout is the floor applied to configured timeouts.
	MinStartTimeout = time.Second
)

// Settings is the on-disk settings file. Zero values mean "use the default".
type Settings struct {
	// BindHost is the listen address for the engine and relay servers.
	BindHost string `yaml:"bind_host,omitempty"`
	// ClientHost is the address handed to clients for connecting.
	ClientHost string `yaml:"client_host,omitempty"`
	// AuthEnabled protects the engine with basic-auth credentials.
	AuthEnabled *bool `yaml:"auth_enabled,omitempty"`
	// OrchestratorStartTimeoutMS overrides the orchestrated startup timeout.
	OrchestratorStartTimeoutMS int64 `yaml:"orchestrator_start_timeout_ms,omitempty"`
	// EnableBridge starts the IPC bridge alongside the relay.
	EnableBridge bool `yaml:"enable_bridge,omitempty"`
}

// Default returns the settings used when no file exists.
func Default() *Settings {
	return &Settings{}
}

// DefaultPath returns the default settings location:
//
//	~/.do-what/settings.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "do-what.settings.yaml"
	}
	return filepath.Join(home, ".do-what", "settings.yaml")
}

// Load reads settings from path; a missing file yields defaults.
func Load(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	var s Settings
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &s, nil
}

// Save writes settings atomically, creating the parent directory.
func Save(path string, s *Settings) error {
	if s == nil {
		return errors.New("nil settings")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ResolveBindHost applies the DOWHAT_OPENCODE_BIND_HOST override, then the
// settings value, then the default.
func (s *Settings) ResolveBindHost() string {
	if v := strings.TrimSpace(os.Getenv("DOWHAT_OPENCODE_BIND_HOST")); v != "" {
		return v
	}
	if s != nil {
		if v := strings.TrimSpace(s.BindHost); v != "" {
			return v
		}
	}
	return DefaultBindHost
}

// ResolveClientHost returns the host clients should dial. Binding to all
// interfaces is not itself dialable, so it maps back to loopback unless a
// client host was configured.
func (s *Settings) ResolveClientHost() string {
	if s != nil {
		if v := strings.TrimSpace(s.ClientHost); v != "" {
			return v
		}
	}
	bind := s.ResolveBindHost()
	if bind == "0.0.0.0" || bind == "::" {
		return DefaultClientHost
	}
	return bind
}

// AuthRequired reports whether engine credentials should be generated. The
// DOWHAT_OPENCODE_AUTH env toggle wins over the settings file; the default
// is on.
func (s *Settings) AuthRequired() bool {
	if v := strings.TrimSpace(os.Getenv("DOWHAT_OPENCODE_AUTH")); v != "" {
		switch strings.ToLower(v) {
		case "0", "false", "off", "no":
			return false
		default:
			return true
		}
	}
	if s != nil && s.AuthEnabled != nil {
		return *s.AuthEnabled
	}
	return true
}

// StartTimeout returns the orchestrated startup timeout: the
// DOWHAT_ORCHESTRATOR_START_TIMEOUT_MS env override, then the settings
// value, then the default. Configured values are clamped to the floor.
func (s *Settings) StartTimeout() time.Duration {
	if raw := strings.TrimSpace(os.Getenv("DOWHAT_ORCHESTRATOR_START_TIMEOUT_MS")); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
			return clampStartTimeout(time.Duration(ms) * time.Millisecond)
		}
	}
	if s != nil && s.OrchestratorStartTimeoutMS > 0 {
		return clampStartTimeout(time.Duration(s.OrchestratorStartTimeoutMS) * time.Millisecond)
	}
	return DefaultStartTimeout
}

func clampStartTimeout(d time.Duration) time.Duration {
	if d < MinStartTimeout {
		return MinStartTimeout
	}
	return d
}
