package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Processes that can have a default profile.
const (
	ProcessCLI    = "cli"
	ProcessDaemon = "daemon"
)

// ValidProcesses lists the process names accepted by SetDefault.
var ValidProcesses = []string{ProcessCLI, ProcessDaemon}

// EnvProfile overrides the default profile when set.
const EnvProfile = "PROVEX_PROFILE"

// Profile holds the connection parameters for one storage backend.
type Profile struct {
	Engine   string `yaml:"engine" validate:"required,oneof=sqlite neo4j"`
	Path     string `yaml:"path,omitempty" validate:"required_if=Engine sqlite"`
	URI      string `yaml:"uri,omitempty" validate:"required_if=Engine neo4j"`
	Database string `yaml:"database,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Config is the on-disk profile registry.
type Config struct {
	Profiles        map[string]Profile `yaml:"profiles"`
	DefaultProfiles map[string]string  `yaml:"default_profiles,omitempty"`

	path string
}

var validate = validator.New()

// DefaultPath returns ~/.provex/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".provex", "config.yaml"), nil
}

// Load reads the registry at path, creating an empty one if the file
// does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Profiles:        make(map[string]Profile),
		DefaultProfiles: make(map[string]string),
		path:            path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	if cfg.DefaultProfiles == nil {
		cfg.DefaultProfiles = make(map[string]string)
	}

	for name, profile := range cfg.Profiles {
		if err := validate.Struct(profile); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
	}

	return cfg, nil
}

// Save writes the registry back to the path it was loaded from.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Profile returns the named profile.
func (c *Config) Profile(name string) (Profile, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q does not exist", name)
	}
	return p, nil
}

// SetProfile adds or replaces a profile after validating it.
func (c *Config) SetProfile(name string, p Profile) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}
	c.Profiles[name] = p
	return nil
}

// Names returns the profile names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetDefault records name as the default profile for the given
// process (cli or daemon).
func (c *Config) SetDefault(process, name string) error {
	if !validProcess(process) {
		return fmt.Errorf("%q is not a valid process, choose from: %v", process, ValidProcesses)
	}
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile %q does not exist", name)
	}
	c.DefaultProfiles[process] = name
	return nil
}

// Default returns the default profile name for a process, or "".
func (c *Config) Default(process string) string {
	return c.DefaultProfiles[process]
}

// Delete removes a profile and any default references to it.
func (c *Config) Delete(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile %q does not exist", name)
	}
	delete(c.Profiles, name)
	for process, def := range c.DefaultProfiles {
		if def == name {
			delete(c.DefaultProfiles, process)
		}
	}
	return nil
}

// Current resolves the profile to use for a process: an explicit name
// wins, then the PROVEX_PROFILE environment variable, then the process
// default.
func (c *Config) Current(process, explicit string) (string, error) {
	name := explicit
	if name == "" {
		name = os.Getenv(EnvProfile)
	}
	if name == "" {
		name = c.DefaultProfiles[process]
	}
	if name == "" {
		return "", fmt.Errorf("no profile configured for process %q", process)
	}
	if _, ok := c.Profiles[name]; !ok {
		return "", fmt.Errorf("profile %q does not exist", name)
	}
	return name, nil
}

func validProcess(process string) bool {
	for _, p := range ValidProcesses {
		if p == process {
			return true
		}
	}
	return false
}
