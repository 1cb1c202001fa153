package device

import "testing"

func TestParseDialect(t *testing.T) {
	tests := []struct {
		tag     string
		want    Dialect
		wantErr bool
	}{
		{tag: "cisco_ios", want: DialectCiscoIOS},
		{tag: "CISCO_ASA", want: DialectCiscoASA},
		{tag: "  linux  ", want: DialectLinux},
		{tag: "arista_eos", want: DialectAristaEOS},
		{tag: "vax_vms", wantErr: true},
		{tag: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDialect(tt.tag)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDialect(%q): expected error, got %v", tt.tag, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDialect(%q): unexpected error: %v", tt.tag, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDialect(%q) = %v, want %v", tt.tag, got, tt.want)
		}
	}
}

func TestDialectSpec_EnableRule(t *testing.T) {
	if !DialectCiscoASA.Spec().RequiresEnable {
		t.Error("cisco_asa should require privileged-mode entry")
	}
	if DialectCiscoIOS.Spec().RequiresEnable {
		t.Error("cisco_ios should not require privileged-mode entry")
	}
	if DialectLinux.Spec().SupportsConfigMode {
		t.Error("linux should not support config mode")
	}
	if !DialectCiscoIOS.Spec().SupportsConfigMode {
		t.Error("cisco_ios should support config mode")
	}
}

func TestTargetKey(t *testing.T) {
	if got := (Target{Host: "10.0.0.1"}).Key(); got != "10.0.0.1" {
		t.Errorf("Key() = %q, want host only", got)
	}
	if got := (Target{Host: "10.0.0.1", Name: "core-sw1"}).Key(); got != "10.0.0.1/core-sw1" {
		t.Errorf("Key() = %q, want host/name", got)
	}
}

func TestPlanValidate(t *testing.T) {
	if err := (&Plan{Commands: []string{"show version"}}).Validate(); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}
	if err := (&Plan{}).Validate(); err == nil {
		t.Error("empty plan accepted")
	}
	if err := (&Plan{Commands: []string{" ", ""}}).Validate(); err == nil {
		t.Error("blank-only plan accepted")
	}
	var nilPlan *Plan
	if err := nilPlan.Validate(); err == nil {
		t.Error("nil plan accepted")
	}
}

func TestPlanEffectiveCommands(t *testing.T) {
	p := &Plan{Commands: []string{"show version", "", "  ", "show ip int brief"}}
	got := p.EffectiveCommands()
	if len(got) != 2 || got[0] != "show version" || got[1] != "show ip int brief" {
		t.Errorf("EffectiveCommands() = %v", got)
	}
}
