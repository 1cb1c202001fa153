// Package inventory loads device inventories and run configuration from
// YAML. Rows for the same device accumulate: a repeated (address, name)
// pair extends the device's command list instead of replacing it, and a
// CIDR address expands into one target per usable host in the range.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mindwolf80/nice/internal/device"
)

// Config is the top-level inventory file.
type Config struct {
	Defaults Defaults                 `yaml:"defaults"`
	Plans    map[string]PlanDef       `yaml:"plans,omitempty"`
	Extracts map[string][]ExtractRule `yaml:"extracts,omitempty"`
	Devices  []Row                    `yaml:"devices" validate:"required,min=1,dive"`
}

// PlanDef is a named, reusable command sequence rows can reference instead
// of carrying inline commands.
type PlanDef struct {
	Description string `yaml:"description,omitempty"`
	Commands    string `yaml:"commands"`
	ConfigMode  bool   `yaml:"config_mode"`
}

// ExtractRule defines how to pull one named field out of device output,
// either with a regex capture group or by whitespace column.
type ExtractRule struct {
	Field   string `yaml:"field"`
	Pattern string `yaml:"pattern,omitempty"` // regex with capture group
	Column  int    `yaml:"column,omitempty"`  // 1-based column index
}

// Defaults holds run-wide settings a row can rely on.
type Defaults struct {
	Dialect          string   `yaml:"dialect"`
	Port             int      `yaml:"port" validate:"gte=0,lte=65535"`
	Workers          int      `yaml:"workers" validate:"gte=0"`
	BatchSize        int      `yaml:"batch_size" validate:"gte=0"`
	PortCheckTimeout Duration `yaml:"port_check_timeout"`
	ConnectTimeout   Duration `yaml:"connect_timeout"`
	CommandTimeout   Duration `yaml:"command_timeout"`
	RetryBudget      Duration `yaml:"retry_budget"`
}

// Row is one inventory entry. Commands may hold several newline-joined
// commands in a single field.
type Row struct {
	Address    string `yaml:"address" validate:"required"`
	Name       string `yaml:"name"`
	Dialect    string `yaml:"dialect"`
	Port       int    `yaml:"port" validate:"gte=0,lte=65535"`
	Commands   string `yaml:"commands"`
	Plan       string `yaml:"plan"` // named plan; inline commands append after it
	ConfigMode bool   `yaml:"config_mode"`
}

// Duration wraps time.Duration to support YAML unmarshaling from strings
// like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultConfig returns a Config with the stock settings.
func DefaultConfig() *Config {
	return &Config{
		Defaults: Defaults{
			Dialect:          device.DialectLinux.String(),
			Port:             22,
			Workers:          10,
			BatchSize:        5,
			PortCheckTimeout: Duration{3 * time.Second},
			ConnectTimeout:   Duration{30 * time.Second},
			CommandTimeout:   Duration{120 * time.Second},
			RetryBudget:      Duration{30 * time.Second},
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads and parses an inventory YAML file from the given path. A
// leading ~/ expands to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		return nil, fmt.Errorf("reading inventory file: %w", err)
	}
	return Parse(data)
}

// Parse parses inventory YAML, applies defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}
	return cfg, nil
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks the parts struct tags cannot express: dialect tags must
// belong to the supported set, plan references must resolve, and extract
// rules must compile.
func (c *Config) Validate() error {
	if c.Defaults.Dialect != "" {
		if _, err := device.ParseDialect(c.Defaults.Dialect); err != nil {
			return fmt.Errorf("defaults: %w", err)
		}
	}

	for name, plan := range c.Plans {
		if !nameRe.MatchString(name) {
			return fmt.Errorf("plan name %q must match [a-zA-Z0-9_-]+", name)
		}
		if len(SplitCommands(plan.Commands)) == 0 {
			return fmt.Errorf("plan %q has no commands", name)
		}
	}

	for name, rules := range c.Extracts {
		if !nameRe.MatchString(name) {
			return fmt.Errorf("extract name %q must match [a-zA-Z0-9_-]+", name)
		}
		if len(rules) == 0 {
			return fmt.Errorf("extract %q has no rules", name)
		}
		for i, rule := range rules {
			if rule.Field == "" {
				return fmt.Errorf("extract %q rule %d has empty field name", name, i)
			}
			if rule.Pattern == "" && rule.Column == 0 {
				return fmt.Errorf("extract %q rule %d (%s) must have pattern or column", name, i, rule.Field)
			}
			if rule.Pattern != "" {
				if _, err := regexp.Compile(rule.Pattern); err != nil {
					return fmt.Errorf("extract %q field %q: %w", name, rule.Field, err)
				}
			}
		}
	}

	for i, row := range c.Devices {
		if row.Dialect != "" {
			if _, err := device.ParseDialect(row.Dialect); err != nil {
				return fmt.Errorf("device %d (%s): %w", i, row.Address, err)
			}
		}
		if row.Plan != "" {
			if _, ok := c.Plans[row.Plan]; !ok {
				return fmt.Errorf("device %d (%s): unknown plan %q", i, row.Address, row.Plan)
			}
		}
	}
	return nil
}

// ExpandHome expands a leading ~/ to the user's home directory. Paths like
// ~otheruser/... are returned unchanged since other users' home directories
// cannot be resolved reliably.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// Credentials carries the account used for every target in a run.
type Credentials struct {
	Username     string
	Password     string
	EnableSecret string // falls back to Password when empty
}

// Env variable names for non-interactive credential sourcing.
const (
	EnvUsername = "NICE_USERNAME"
	EnvPassword = "NICE_PASSWORD"
)

// CredentialsFromEnv reads credentials from the environment. A credential
// left unset comes back empty; the caller decides whether to prompt.
func CredentialsFromEnv() Credentials {
	return Credentials{
		Username: os.Getenv(EnvUsername),
		Password: os.Getenv(EnvPassword),
	}
}

// Targets resolves the inventory rows into device targets. Rows with the
// same (address, name) pair merge: their command lists append in file
// order, and the first row's dialect, port, and config flag win. A CIDR
// address expands into one target per usable host, each carrying the row's
// plan.
func (c *Config) Targets(creds Credentials) ([]device.Target, error) {
	type key struct{ address, name string }
	merged := make(map[key]int) // key -> index into rows
	var rows []Row

	for _, row := range c.Devices {
		k := key{row.Address, row.Name}
		if i, ok := merged[k]; ok {
			prev := &rows[i]
			if prev.Commands == "" {
				prev.Commands = row.Commands
			} else if row.Commands != "" {
				prev.Commands += "\n" + row.Commands
			}
			continue
		}
		merged[k] = len(rows)
		rows = append(rows, row)
	}

	var targets []device.Target
	for _, row := range rows {
		commands := row.Commands
		configMode := row.ConfigMode
		if row.Plan != "" {
			def, ok := c.Plans[row.Plan]
			if !ok {
				return nil, fmt.Errorf("device %s: unknown plan %q", row.Address, row.Plan)
			}
			if commands == "" {
				commands = def.Commands
			} else {
				commands = def.Commands + "\n" + commands
			}
			configMode = configMode || def.ConfigMode
		}

		dialectTag := row.Dialect
		if dialectTag == "" {
			dialectTag = c.Defaults.Dialect
		}
		dialect, err := device.ParseDialect(dialectTag)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", row.Address, err)
		}

		port := row.Port
		if port == 0 {
			port = c.Defaults.Port
		}

		plan := &device.Plan{
			Commands:   SplitCommands(commands),
			ConfigMode: configMode,
		}

		base := device.Target{
			Port:         port,
			Name:         row.Name,
			Dialect:      dialect,
			Username:     creds.Username,
			Password:     creds.Password,
			EnableSecret: creds.EnableSecret,
			Plan:         plan,
		}

		if strings.Contains(row.Address, "/") {
			hosts, err := ExpandCIDR(row.Address)
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", row.Address, err)
			}
			for _, h := range hosts {
				t := base
				t.Host = h
				t.Name = "" // per-host labels make no sense for a range
				targets = append(targets, t)
			}
			continue
		}

		base.Host = row.Address
		targets = append(targets, base)
	}

	return targets, nil
}

// SplitCommands splits a newline-joined command field into individual
// commands, trimming whitespace and dropping blank lines.
func SplitCommands(field string) []string {
	var out []string
	for _, line := range strings.Split(field, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
