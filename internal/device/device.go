// Package device defines the targets and command plans the execution engine
// operates on: one Target per remote network element, one Plan per ordered
// command sequence, and a closed set of vendor dialects that select the
// CLI conventions (privileged-mode entry, configuration-mode commands) used
// when talking to a device.
package device

import (
	"fmt"
	"sort"
	"strings"
)

// Dialect identifies the vendor CLI conventions of a device.
type Dialect int

const (
	DialectLinux Dialect = iota
	DialectCiscoIOS
	DialectCiscoASA
	DialectCiscoNXOS
	DialectAristaEOS
	DialectF5TMSH
	DialectPaloAltoPANOS
)

var dialectNames = map[Dialect]string{
	DialectLinux:         "linux",
	DialectCiscoIOS:      "cisco_ios",
	DialectCiscoASA:      "cisco_asa",
	DialectCiscoNXOS:     "cisco_nxos",
	DialectAristaEOS:     "arista_eos",
	DialectF5TMSH:        "f5_tmsh",
	DialectPaloAltoPANOS: "paloalto_panos",
}

// String returns the canonical tag for the dialect (e.g. "cisco_ios").
func (d Dialect) String() string {
	if name, ok := dialectNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dialect(%d)", int(d))
}

// ParseDialect resolves a device-type tag into a Dialect.
func ParseDialect(tag string) (Dialect, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for d, name := range dialectNames {
		if name == tag {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown device dialect %q", tag)
}

// Dialects returns the supported dialect tags, sorted.
func Dialects() []string {
	out := make([]string, 0, len(dialectNames))
	for _, name := range dialectNames {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Spec describes the CLI conventions of one dialect. Specs are resolved once
// per Target at construction time rather than re-branched on a type string
// at every call site.
type Spec struct {
	// RequiresEnable marks dialects that land in an unprivileged shell and
	// need an explicit elevation step after connecting.
	RequiresEnable bool

	// EnableCommand is the elevation command for dialects with
	// RequiresEnable set.
	EnableCommand string

	// SupportsConfigMode marks dialects with a transactional configuration
	// mode the engine can enter and exit.
	SupportsConfigMode bool

	// ConfigEnter and ConfigExit move the session in and out of
	// configuration mode.
	ConfigEnter string
	ConfigExit  string

	// ConfigPromptMark is the substring that appears in the prompt while
	// the session is in configuration mode.
	ConfigPromptMark string
}

var dialectSpecs = map[Dialect]Spec{
	DialectLinux: {},
	DialectCiscoIOS: {
		SupportsConfigMode: true,
		ConfigEnter:        "configure terminal",
		ConfigExit:         "end",
		ConfigPromptMark:   "(config",
	},
	DialectCiscoASA: {
		RequiresEnable:     true,
		EnableCommand:      "enable",
		SupportsConfigMode: true,
		ConfigEnter:        "configure terminal",
		ConfigExit:         "end",
		ConfigPromptMark:   "(config",
	},
	DialectCiscoNXOS: {
		SupportsConfigMode: true,
		ConfigEnter:        "configure terminal",
		ConfigExit:         "end",
		ConfigPromptMark:   "(config",
	},
	DialectAristaEOS: {
		SupportsConfigMode: true,
		ConfigEnter:        "configure terminal",
		ConfigExit:         "end",
		ConfigPromptMark:   "(config",
	},
	DialectF5TMSH: {},
	DialectPaloAltoPANOS: {
		SupportsConfigMode: true,
		ConfigEnter:        "configure",
		ConfigExit:         "exit",
		ConfigPromptMark:   "#",
	},
}

// Spec returns the CLI conventions for the dialect.
func (d Dialect) Spec() Spec {
	return dialectSpecs[d]
}

// Target describes one remote network element. Targets are constructed
// before a run starts and are read-only for its duration.
type Target struct {
	Host         string
	Port         int    // 0 means resolve from ssh_config, then 22
	Name         string // display/DNS label, may be empty
	Dialect      Dialect
	Username     string
	Password     string
	EnableSecret string // privileged-mode secret; Password is used when empty

	// Plan overrides the run-wide plan for this target when commands are
	// loaded per device. Nil means the shared plan applies.
	Plan *Plan
}

// Key returns the identity of the target within a run: the host, qualified
// by the display name when one is present.
func (t Target) Key() string {
	if t.Name == "" {
		return t.Host
	}
	return t.Host + "/" + t.Name
}

// Plan is an ordered command sequence, shared read-only across the devices
// of a run or attached per device.
type Plan struct {
	Commands   []string
	ConfigMode bool
}

// Validate reports whether the plan can be executed.
func (p *Plan) Validate() error {
	if p == nil || len(p.Commands) == 0 {
		return fmt.Errorf("command plan is empty")
	}
	for _, c := range p.Commands {
		if strings.TrimSpace(c) != "" {
			return nil
		}
	}
	return fmt.Errorf("command plan contains only blank commands")
}

// EffectiveCommands returns the plan's commands with blank entries removed,
// preserving order.
func (p *Plan) EffectiveCommands() []string {
	out := make([]string, 0, len(p.Commands))
	for _, c := range p.Commands {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}
