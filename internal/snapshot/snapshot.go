// Package snapshot defines the immutable value model for script
// configurations: a configuration (module roots, runtime binding,
// compiler options), the diagnostics produced while computing it, and
// the per-file loaded/applied state pair.
//
// Snapshots are value types. They are never mutated after construction;
// the cache and the roots aggregate always copy slices on the way in
// and out so shared snapshots stay safe under concurrent readers.
package snapshot

import "sort"

// Severity classifies a diagnostic.
type Severity int

// Diagnostic severities, most severe first.
const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInfo
	SeverityHint
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Position locates a diagnostic within a script (1-based, zero means unknown).
type Position struct {
	Line   int
	Column int
}

// Diagnostic is one message produced while computing a configuration.
// Diagnostics are carried as data, never as errors; identical sets are
// deduplicated by value before being re-reported.
type Diagnostic struct {
	Severity Severity
	Message  string
	Pos      Position
	Source   string
}

// Runtime identifies the script runtime a configuration targets.
type Runtime struct {
	Name    string
	Version string
	Path    string
}

// IsZero reports whether the runtime is unset.
func (r Runtime) IsZero() bool {
	return r == Runtime{}
}

// Configuration is the computed compilation environment for one script:
// the module roots its imports resolve against, the source roots used
// for navigation, the runtime binding, and extra compiler options.
type Configuration struct {
	ModuleRoots []string
	SourceRoots []string
	Runtime     Runtime
	Options     []string
}

// Equal compares two configurations by value.
func (c Configuration) Equal(o Configuration) bool {
	return c.Runtime == o.Runtime &&
		equalStrings(c.ModuleRoots, o.ModuleRoots) &&
		equalStrings(c.SourceRoots, o.SourceRoots) &&
		equalStrings(c.Options, o.Options)
}

// Clone returns a deep copy of the configuration.
func (c Configuration) Clone() Configuration {
	return Configuration{
		ModuleRoots: cloneStrings(c.ModuleRoots),
		SourceRoots: cloneStrings(c.SourceRoots),
		Runtime:     c.Runtime,
		Options:     cloneStrings(c.Options),
	}
}

// Snapshot pairs a configuration with the diagnostics from the load
// that produced it.
type Snapshot struct {
	Config      Configuration
	Diagnostics []Diagnostic
}

// New creates a snapshot, deep-copying its inputs.
func New(cfg Configuration, diags []Diagnostic) *Snapshot {
	return &Snapshot{
		Config:      cfg.Clone(),
		Diagnostics: cloneDiagnostics(diags),
	}
}

// Equal compares two snapshots by value of configuration and
// diagnostics only. Both sides may be nil.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Config.Equal(o.Config) && EqualDiagnostics(s.Diagnostics, o.Diagnostics)
}

// EqualDiagnostics compares two diagnostic sets by value, ignoring order.
func EqualDiagnostics(a, b []Diagnostic) bool {
	if len(a) != len(b) {
		return false
	}
	as := cloneDiagnostics(a)
	bs := cloneDiagnostics(b)
	sortDiagnostics(as)
	sortDiagnostics(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func sortDiagnostics(d []Diagnostic) {
	sort.Slice(d, func(i, j int) bool {
		if d[i].Pos.Line != d[j].Pos.Line {
			return d[i].Pos.Line < d[j].Pos.Line
		}
		if d[i].Pos.Column != d[j].Pos.Column {
			return d[i].Pos.Column < d[j].Pos.Column
		}
		if d[i].Severity != d[j].Severity {
			return d[i].Severity < d[j].Severity
		}
		return d[i].Message < d[j].Message
	})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func cloneDiagnostics(d []Diagnostic) []Diagnostic {
	if len(d) == 0 {
		return nil
	}
	out := make([]Diagnostic, len(d))
	copy(out, d)
	return out
}
