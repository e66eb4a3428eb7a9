package reload

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
	"github.com/dshills/scriptroots/internal/vfs"
)

func writeScript(t *testing.T, fsys *vfs.MemFS, path, src string) script.Handle {
	t.Helper()
	if err := fsys.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
	return script.Handle{ID: script.FileID(path), Path: path}
}

func luaDef() *script.Definition {
	return &script.Definition{Name: "lua", Patterns: []string{"**/*.lua"}}
}

func TestCompiler_ScriptDirIsAlwaysARoot(t *testing.T) {
	fsys := vfs.NewMemFS()
	h := writeScript(t, fsys, "/ws/scripts/a.lua", `print("hi")`)

	snap := NewCompiler(fsys, "/ws").Compile(h, luaDef())

	want := filepath.Clean("/ws/scripts")
	if len(snap.Config.ModuleRoots) != 1 || snap.Config.ModuleRoots[0] != want {
		t.Errorf("ModuleRoots = %v, want [%s]", snap.Config.ModuleRoots, want)
	}
	if len(snap.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", snap.Diagnostics)
	}
}

func TestCompiler_RequireResolvesToSearchRoot(t *testing.T) {
	fsys := vfs.NewMemFS()
	writeScript(t, fsys, "/ws/lib/util/strings.lua", "return {}")
	writeScript(t, fsys, "/ws/lib/json/init.lua", "return {}")
	h := writeScript(t, fsys, "/ws/scripts/a.lua",
		"local s = require(\"util.strings\")\nlocal j = require(\"json\")\n")

	c := NewCompiler(fsys, "/ws", WithExtraSearchPaths("/ws/lib"))
	snap := c.Compile(h, luaDef())

	if len(snap.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", snap.Diagnostics)
	}
	if !hasRoot(snap, "/ws/lib") {
		t.Errorf("ModuleRoots = %v, want /ws/lib for resolved requires", snap.Config.ModuleRoots)
	}
	// Both requires resolve under the same root; it appears once.
	if got := len(snap.Config.ModuleRoots); got != 2 {
		t.Errorf("ModuleRoots = %v, want 2 entries (script dir + lib)", snap.Config.ModuleRoots)
	}
}

func TestCompiler_RequireInsideNestedBlocks(t *testing.T) {
	fsys := vfs.NewMemFS()
	writeScript(t, fsys, "/ws/lib/deep.lua", "return {}")
	h := writeScript(t, fsys, "/ws/a.lua", `
if true then
  for i = 1, 2 do
    local function f()
      return require("deep")
    end
  end
end
`)

	c := NewCompiler(fsys, "/ws", WithExtraSearchPaths("/ws/lib"))
	snap := c.Compile(h, luaDef())

	if !hasRoot(snap, "/ws/lib") {
		t.Errorf("ModuleRoots = %v, require inside nested blocks must be found", snap.Config.ModuleRoots)
	}
}

func TestCompiler_UnresolvedModuleIsWarningWithLine(t *testing.T) {
	fsys := vfs.NewMemFS()
	h := writeScript(t, fsys, "/ws/a.lua", "local x = 1\nlocal m = require(\"no.such.module\")\n")

	snap := NewCompiler(fsys, "/ws").Compile(h, luaDef())

	d := findDiag(t, snap, snapshot.SeverityWarning)
	if d.Pos.Line != 2 {
		t.Errorf("warning line = %d, want 2", d.Pos.Line)
	}
	if d.Source != "scriptroots.compile" {
		t.Errorf("diagnostic source = %q", d.Source)
	}
}

func TestCompiler_SyntaxErrorIsDiagnosticNotFailure(t *testing.T) {
	fsys := vfs.NewMemFS()
	h := writeScript(t, fsys, "/ws/a.lua", "local = broken(")

	snap := NewCompiler(fsys, "/ws").Compile(h, luaDef())

	if snap == nil {
		t.Fatal("a broken script still yields a snapshot")
	}
	d := findDiag(t, snap, snapshot.SeverityError)
	if d.Pos.Line == 0 {
		t.Error("parse diagnostic should carry the error position")
	}
	// The script directory is still a root.
	if !hasRoot(snap, "/ws") {
		t.Errorf("ModuleRoots = %v, want the script dir even on parse failure", snap.Config.ModuleRoots)
	}
}

func TestCompiler_UnreadableScript(t *testing.T) {
	fsys := vfs.NewMemFS()
	h := script.Handle{ID: "gone", Path: "/ws/gone.lua"}

	snap := NewCompiler(fsys, "/ws").Compile(h, luaDef())

	findDiag(t, snap, snapshot.SeverityError)
	if len(snap.Config.ModuleRoots) != 0 {
		t.Errorf("ModuleRoots = %v, want none for an unreadable script", snap.Config.ModuleRoots)
	}
}

func TestCompiler_DependsDirective(t *testing.T) {
	fsys := vfs.NewMemFS()
	if err := fsys.MkdirAll("/ws/vendor/llib", 0o755); err != nil {
		t.Fatal(err)
	}
	h := writeScript(t, fsys, "/ws/scripts/a.lua",
		"-- @depends \"vendor/llib\"\n-- @depends \"missing/dir\"\nprint(1)\n")

	snap := NewCompiler(fsys, "/ws").Compile(h, luaDef())

	if !hasRoot(snap, "/ws/vendor/llib") {
		t.Errorf("ModuleRoots = %v, workspace-relative @depends must resolve", snap.Config.ModuleRoots)
	}
	d := findDiag(t, snap, snapshot.SeverityWarning)
	if want := "dependency root not found: missing/dir"; d.Message != want {
		t.Errorf("warning = %q, want %q", d.Message, want)
	}
}

func TestCompiler_RuntimePrecedence(t *testing.T) {
	fsys := vfs.NewMemFS()
	def := luaDef()
	def.Runtime = snapshot.Runtime{Name: "lua", Version: "5.1"}
	c := NewCompiler(fsys, "/ws", WithDefaultRuntime(snapshot.Runtime{Name: "lua", Version: "5.4"}))

	// Directive wins over definition and default.
	h := writeScript(t, fsys, "/ws/a.lua", "-- @runtime \"luajit@2.1\"\nprint(1)\n")
	if rt := c.Compile(h, def).Config.Runtime; rt.Name != "luajit" || rt.Version != "2.1" {
		t.Errorf("runtime = %+v, want directive luajit@2.1", rt)
	}

	// Definition wins over default.
	h2 := writeScript(t, fsys, "/ws/b.lua", "print(1)\n")
	if rt := c.Compile(h2, def).Config.Runtime; rt.Name != "lua" || rt.Version != "5.1" {
		t.Errorf("runtime = %+v, want definition lua@5.1", rt)
	}

	// Default when nothing else binds.
	if rt := c.Compile(h2, luaDef()).Config.Runtime; rt.Version != "5.4" {
		t.Errorf("runtime = %+v, want default lua@5.4", rt)
	}
}

func TestCompiler_DefinitionSearchPathsAnchoredAtWorkspace(t *testing.T) {
	fsys := vfs.NewMemFS()
	writeScript(t, fsys, "/ws/modules/helper.lua", "return {}")
	def := luaDef()
	def.SearchPaths = []string{"modules"}
	h := writeScript(t, fsys, "/ws/deep/nested/a.lua", "local h = require(\"helper\")\n")

	snap := NewCompiler(fsys, "/ws").Compile(h, def)

	if !hasRoot(snap, "/ws/modules") {
		t.Errorf("ModuleRoots = %v, relative search paths anchor at the workspace", snap.Config.ModuleRoots)
	}
}

func TestCompileProvider_SyncAndAsync(t *testing.T) {
	fsys := vfs.NewMemFS()
	f, m := newFixture(true)
	c := NewCompiler(fsys, "/ws")
	p := NewCompileProvider(c, zerolog.Nop())
	WithProvider(p)(m)

	h := writeScript(t, fsys, "/ws/a.lua", "print(1)\n")

	// Synchronous path: applied before Reload returns.
	m.Reload(context.Background(), h, Trigger{FirstLoad: true, ForceSync: true})
	if st, ok := f.cache.Get(h.ID); !ok || st.Applied == nil {
		t.Fatal("forced-sync reload must apply before returning")
	}

	// Asynchronous path on a second file.
	h2 := writeScript(t, fsys, "/ws/b.lua", "print(2)\n")
	m.Reload(context.Background(), h2, Trigger{FirstLoad: true})
	p.Wait()
	if st, ok := f.cache.Get(h2.ID); !ok || st.Applied == nil {
		t.Fatal("async reload must apply after Wait")
	}
}

func hasRoot(snap *snapshot.Snapshot, root string) bool {
	want := filepath.Clean(root)
	for _, r := range snap.Config.ModuleRoots {
		if r == want {
			return true
		}
	}
	return false
}

func findDiag(t *testing.T, snap *snapshot.Snapshot, sev snapshot.Severity) snapshot.Diagnostic {
	t.Helper()
	for _, d := range snap.Diagnostics {
		if d.Severity == sev {
			return d
		}
	}
	t.Fatalf("no %v diagnostic in %v", sev, snap.Diagnostics)
	return snapshot.Diagnostic{}
}
