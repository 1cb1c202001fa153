package inventory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mindwolf80/nice/internal/device"
)

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write inventory: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeInventory(t, `
devices:
  - address: 10.0.0.1
    commands: show version
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.Port != 22 {
		t.Errorf("default port = %d, want 22", cfg.Defaults.Port)
	}
	if cfg.Defaults.Workers != 10 || cfg.Defaults.BatchSize != 5 {
		t.Errorf("defaults = %+v, want workers 10 batch 5", cfg.Defaults)
	}
	if cfg.Defaults.CommandTimeout.Duration != 120*time.Second {
		t.Errorf("command timeout = %s, want 2m", cfg.Defaults.CommandTimeout)
	}
	if cfg.Defaults.RetryBudget.Duration != 30*time.Second {
		t.Errorf("retry budget = %s, want 30s", cfg.Defaults.RetryBudget)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeInventory(t, `
defaults:
  dialect: cisco_ios
  workers: 4
  batch_size: 2
  command_timeout: 45s
devices:
  - address: 10.0.0.1
    commands: show version
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.Workers != 4 || cfg.Defaults.BatchSize != 2 {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
	if cfg.Defaults.CommandTimeout.Duration != 45*time.Second {
		t.Errorf("command timeout = %s, want 45s", cfg.Defaults.CommandTimeout)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no devices", `defaults: {workers: 2}`},
		{"missing address", "devices:\n  - name: core1\n    commands: show version\n"},
		{"unknown dialect", "devices:\n  - address: 10.0.0.1\n    dialect: mystery_os\n    commands: x\n"},
		{"bad duration", "defaults:\n  retry_budget: thirty\ndevices:\n  - address: 10.0.0.1\n    commands: x\n"},
		{"negative workers", "defaults:\n  workers: -1\ndevices:\n  - address: 10.0.0.1\n    commands: x\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSplitCommands(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"show version", []string{"show version"}},
		{"show version\nshow clock", []string{"show version", "show clock"}},
		{"  show version  \n\n  show clock\n", []string{"show version", "show clock"}},
		{"", nil},
		{"\n\n", nil},
	}
	for _, tc := range cases {
		got := SplitCommands(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("SplitCommands(%q) = %v, want %v", tc.in, got, tc.want)
			continue
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Errorf("SplitCommands(%q) = %v, want %v", tc.in, got, tc.want)
				break
			}
		}
	}
}

func TestTargetsMergesDuplicateRows(t *testing.T) {
	cfg, err := Parse([]byte(`
defaults:
  dialect: cisco_ios
devices:
  - address: 10.0.0.1
    name: core1
    commands: show version
  - address: 10.0.0.1
    name: core1
    commands: |
      show clock
      show ip interface brief
  - address: 10.0.0.2
    name: core2
    commands: show version
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	targets, err := cfg.Targets(Credentials{Username: "admin", Password: "pw"})
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2 after merge", len(targets))
	}

	core1 := targets[0]
	want := []string{"show version", "show clock", "show ip interface brief"}
	got := core1.Plan.Commands
	if len(got) != len(want) {
		t.Fatalf("core1 commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("core1 commands = %v, want %v (append order)", got, want)
			break
		}
	}
}

func TestTargetsDistinctNamesDoNotMerge(t *testing.T) {
	cfg, err := Parse([]byte(`
devices:
  - address: 10.0.0.1
    name: primary
    commands: uptime
  - address: 10.0.0.1
    name: secondary
    commands: uptime
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	targets, err := cfg.Targets(Credentials{})
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(targets) != 2 {
		t.Errorf("got %d targets, want 2 (names differ)", len(targets))
	}
}

func TestTargetsResolvesDialectPortAndCreds(t *testing.T) {
	cfg, err := Parse([]byte(`
defaults:
  dialect: linux
  port: 2222
devices:
  - address: 10.0.0.1
    commands: uptime
  - address: 10.0.0.2
    dialect: cisco_asa
    port: 22
    commands: show version
    config_mode: true
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	targets, err := cfg.Targets(Credentials{Username: "ops", Password: "secret", EnableSecret: "en"})
	if err != nil {
		t.Fatalf("targets: %v", err)
	}

	if targets[0].Dialect != device.DialectLinux || targets[0].Port != 2222 {
		t.Errorf("target 0 = %+v, want linux on 2222", targets[0])
	}
	if targets[1].Dialect != device.DialectCiscoASA || targets[1].Port != 22 {
		t.Errorf("target 1 = %+v, want cisco_asa on 22", targets[1])
	}
	if !targets[1].Plan.ConfigMode {
		t.Error("target 1 should carry a config-mode plan")
	}
	for _, tgt := range targets {
		if tgt.Username != "ops" || tgt.Password != "secret" || tgt.EnableSecret != "en" {
			t.Errorf("target %s missing credentials", tgt.Host)
		}
	}
}

func TestTargetsExpandsCIDR(t *testing.T) {
	cfg, err := Parse([]byte(`
devices:
  - address: 192.168.1.0/30
    commands: uptime
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	targets, err := cfg.Targets(Credentials{})
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2 usable hosts in a /30", len(targets))
	}
	if targets[0].Host != "192.168.1.1" || targets[1].Host != "192.168.1.2" {
		t.Errorf("hosts = %s, %s", targets[0].Host, targets[1].Host)
	}
	for _, tgt := range targets {
		if len(tgt.Plan.Commands) != 1 || tgt.Plan.Commands[0] != "uptime" {
			t.Errorf("expanded target %s lost its plan: %+v", tgt.Host, tgt.Plan)
		}
	}
}

func TestTargetsResolvesNamedPlan(t *testing.T) {
	cfg, err := Parse([]byte(`
plans:
  healthcheck:
    description: basic device health
    commands: |
      show version
      show environment
devices:
  - address: 10.0.0.1
    plan: healthcheck
  - address: 10.0.0.2
    plan: healthcheck
    commands: show ip bgp summary
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	targets, err := cfg.Targets(Credentials{})
	if err != nil {
		t.Fatalf("targets: %v", err)
	}

	if len(targets[0].Plan.Commands) != 2 {
		t.Errorf("plan commands = %v", targets[0].Plan.Commands)
	}
	// Inline commands append after the named plan's.
	cmds := targets[1].Plan.Commands
	if len(cmds) != 3 || cmds[2] != "show ip bgp summary" {
		t.Errorf("combined commands = %v", cmds)
	}
}

func TestParseRejectsBadPlansAndExtracts(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown plan ref", "devices:\n  - address: 10.0.0.1\n    plan: nope\n"},
		{"empty plan", "plans:\n  p1:\n    commands: \"\"\ndevices:\n  - address: 10.0.0.1\n    plan: p1\n"},
		{"bad plan name", "plans:\n  \"bad name\":\n    commands: x\ndevices:\n  - address: 10.0.0.1\n"},
		{"extract bad regex", "extracts:\n  e1:\n    - field: v\n      pattern: \"(\"\ndevices:\n  - address: 10.0.0.1\n    commands: x\n"},
		{"extract no pattern or column", "extracts:\n  e1:\n    - field: v\ndevices:\n  - address: 10.0.0.1\n    commands: x\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv(EnvUsername, "netops")
	t.Setenv(EnvPassword, "hunter2")

	creds := CredentialsFromEnv()
	if creds.Username != "netops" || creds.Password != "hunter2" {
		t.Errorf("creds = %+v", creds)
	}
}
