package snapshot

import "testing"

func TestConfiguration_Equal(t *testing.T) {
	a := Configuration{
		ModuleRoots: []string{"/ws/vendor", "/ws/lib"},
		Runtime:     Runtime{Name: "lua", Version: "5.1"},
	}
	b := Configuration{
		ModuleRoots: []string{"/ws/vendor", "/ws/lib"},
		Runtime:     Runtime{Name: "lua", Version: "5.1"},
	}
	if !a.Equal(b) {
		t.Error("identical configurations should be equal")
	}

	b.ModuleRoots = []string{"/ws/lib", "/ws/vendor"}
	if a.Equal(b) {
		t.Error("module root order is significant")
	}

	b = a.Clone()
	b.Runtime.Version = "5.4"
	if a.Equal(b) {
		t.Error("runtime change should break equality")
	}
}

func TestConfiguration_CloneIsDeep(t *testing.T) {
	a := Configuration{ModuleRoots: []string{"/ws/lib"}}
	b := a.Clone()
	b.ModuleRoots[0] = "/elsewhere"
	if a.ModuleRoots[0] != "/ws/lib" {
		t.Error("clone shares backing array with original")
	}
}

func TestSnapshot_Equal(t *testing.T) {
	cfg := Configuration{ModuleRoots: []string{"/ws/lib"}}
	diags := []Diagnostic{
		{Severity: SeverityWarning, Message: "unresolved module: x", Pos: Position{Line: 3}},
	}

	a := New(cfg, diags)
	b := New(cfg, diags)
	if !a.Equal(b) {
		t.Error("value-identical snapshots should be equal")
	}

	c := New(cfg, nil)
	if a.Equal(c) {
		t.Error("diagnostics participate in equality")
	}

	var nilSnap *Snapshot
	if a.Equal(nilSnap) {
		t.Error("non-nil should not equal nil")
	}
	if !nilSnap.Equal(nil) {
		t.Error("nil should equal nil")
	}
}

func TestEqualDiagnostics_OrderInsensitive(t *testing.T) {
	a := []Diagnostic{
		{Severity: SeverityError, Message: "b", Pos: Position{Line: 2}},
		{Severity: SeverityWarning, Message: "a", Pos: Position{Line: 1}},
	}
	b := []Diagnostic{
		{Severity: SeverityWarning, Message: "a", Pos: Position{Line: 1}},
		{Severity: SeverityError, Message: "b", Pos: Position{Line: 2}},
	}
	if !EqualDiagnostics(a, b) {
		t.Error("diagnostic sets compare order-insensitively")
	}
	if EqualDiagnostics(a, a[:1]) {
		t.Error("different lengths are never equal")
	}
}

func TestState_PendingAndResolved(t *testing.T) {
	var st State
	if st.Resolved() || st.Pending() {
		t.Error("zero state is neither resolved nor pending")
	}

	snap := New(Configuration{}, nil)
	st.Loaded = snap
	if !st.Pending() {
		t.Error("loaded without applied means pending acceptance")
	}

	st.Applied = snap
	if st.Pending() {
		t.Error("applied state is not pending")
	}
	if !st.Resolved() {
		t.Error("applied state is resolved")
	}
}

func TestSeverity_String(t *testing.T) {
	cases := map[Severity]string{
		SeverityError:   "error",
		SeverityWarning: "warning",
		SeverityInfo:    "info",
		SeverityHint:    "hint",
		Severity(99):    "unknown",
	}
	for sev, want := range cases {
		if got := sev.String(); got != want {
			t.Errorf("Severity(%d).String() = %q, want %q", sev, got, want)
		}
	}
}
