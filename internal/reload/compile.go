package reload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
	"github.com/dshills/scriptroots/internal/vfs"
)

// diagSourceCompile tags diagnostics produced by the compile pass.
const diagSourceCompile = "scriptroots.compile"

// Compiler computes a script's configuration from its source: it parses
// the Lua chunk, collects require targets and header directives, and
// resolves them to module roots. Syntax and resolution problems become
// diagnostics inside the snapshot, never errors.
type Compiler struct {
	fs         vfs.FS
	workspace  string
	extraPaths []string
	runtime    snapshot.Runtime
	log        zerolog.Logger
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithExtraSearchPaths adds workspace-level module search paths offered
// to every script.
func WithExtraSearchPaths(paths ...string) CompilerOption {
	return func(c *Compiler) {
		c.extraPaths = append(c.extraPaths, paths...)
	}
}

// WithDefaultRuntime sets the runtime used when neither directives nor
// the definition bind one.
func WithDefaultRuntime(rt snapshot.Runtime) CompilerOption {
	return func(c *Compiler) {
		c.runtime = rt
	}
}

// WithCompilerLogger sets the compiler logger.
func WithCompilerLogger(log zerolog.Logger) CompilerOption {
	return func(c *Compiler) {
		c.log = log
	}
}

// NewCompiler creates a compiler rooted at the workspace.
func NewCompiler(fsys vfs.FS, workspace string, opts ...CompilerOption) *Compiler {
	c := &Compiler{
		fs:        fsys,
		workspace: filepath.Clean(workspace),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile computes the configuration snapshot for one script.
func (c *Compiler) Compile(h script.Handle, def *script.Definition) *snapshot.Snapshot {
	var diags []snapshot.Diagnostic

	src, err := c.fs.ReadFile(h.Path)
	if err != nil {
		diags = append(diags, snapshot.Diagnostic{
			Severity: snapshot.SeverityError,
			Message:  fmt.Sprintf("cannot read script: %v", err),
			Source:   diagSourceCompile,
		})
		return snapshot.New(snapshot.Configuration{Runtime: c.runtimeFor(def, script.Directives{})}, diags)
	}

	dirs := script.ParseDirectives(src)

	chunk, perr := parse.Parse(bytes.NewReader(src), h.Path)
	if perr != nil {
		diags = append(diags, parseDiagnostic(perr))
	}

	requires := collectRequires(chunk)

	scriptDir := filepath.Dir(h.Path)
	searchPaths := c.searchPaths(def, scriptDir)

	var moduleRoots []string
	seen := make(map[string]struct{})
	addRoot := func(root string) {
		root = filepath.Clean(root)
		if _, dup := seen[root]; dup {
			return
		}
		seen[root] = struct{}{}
		moduleRoots = append(moduleRoots, root)
	}

	// The script's own directory always participates.
	addRoot(scriptDir)

	for _, dep := range dirs.Depends {
		root, ok := c.resolveDepends(dep, scriptDir)
		if !ok {
			diags = append(diags, snapshot.Diagnostic{
				Severity: snapshot.SeverityWarning,
				Message:  fmt.Sprintf("dependency root not found: %s", dep),
				Source:   diagSourceCompile,
			})
			continue
		}
		addRoot(root)
	}

	for _, r := range requires {
		root, ok := resolveModule(c.fs, r.module, searchPaths)
		if !ok {
			diags = append(diags, snapshot.Diagnostic{
				Severity: snapshot.SeverityWarning,
				Message:  fmt.Sprintf("unresolved module: %s", r.module),
				Pos:      snapshot.Position{Line: r.line},
				Source:   diagSourceCompile,
			})
			continue
		}
		addRoot(root)
	}

	cfg := snapshot.Configuration{
		ModuleRoots: moduleRoots,
		SourceRoots: moduleRoots,
		Runtime:     c.runtimeFor(def, dirs),
		Options:     dirs.Options,
	}
	return snapshot.New(cfg, diags)
}

// runtimeFor picks the runtime binding: directive, then definition,
// then compiler default.
func (c *Compiler) runtimeFor(def *script.Definition, dirs script.Directives) snapshot.Runtime {
	if dirs.RuntimeName != "" {
		return snapshot.Runtime{Name: dirs.RuntimeName, Version: dirs.RuntimeVersion}
	}
	if def != nil && !def.Runtime.IsZero() {
		return def.Runtime
	}
	return c.runtime
}

// searchPaths builds the ordered module search paths for one script.
// Relative definition paths are anchored at the workspace.
func (c *Compiler) searchPaths(def *script.Definition, scriptDir string) []string {
	var out []string
	if def != nil {
		for _, p := range def.SearchPaths {
			if !filepath.IsAbs(p) {
				p = filepath.Join(c.workspace, p)
			}
			out = append(out, p)
		}
	}
	out = append(out, c.extraPaths...)
	out = append(out, scriptDir)
	return out
}

// resolveDepends resolves a @depends directive to an existing directory
// root, trying the script dir then the workspace.
func (c *Compiler) resolveDepends(dep, scriptDir string) (string, bool) {
	if filepath.IsAbs(dep) {
		if c.fs.Exists(dep) {
			return dep, true
		}
		return "", false
	}
	for _, base := range []string{scriptDir, c.workspace} {
		p := filepath.Join(base, dep)
		if c.fs.Exists(p) {
			return p, true
		}
	}
	return "", false
}

// resolveModule finds the search root under which a dotted module name
// resolves (root/a/b.lua or root/a/b/init.lua for "a.b").
func resolveModule(fsys vfs.FS, module string, searchPaths []string) (string, bool) {
	rel := filepath.FromSlash(strings.ReplaceAll(module, ".", "/"))
	for _, root := range searchPaths {
		if fsys.Exists(filepath.Join(root, rel+".lua")) {
			return root, true
		}
		if fsys.Exists(filepath.Join(root, rel, "init.lua")) {
			return root, true
		}
	}
	return "", false
}

// parseDiagnostic converts a gopher-lua parse failure into a diagnostic.
func parseDiagnostic(err error) snapshot.Diagnostic {
	var perr *parse.Error
	if errors.As(err, &perr) {
		return snapshot.Diagnostic{
			Severity: snapshot.SeverityError,
			Message:  perr.Message,
			Pos:      snapshot.Position{Line: perr.Pos.Line, Column: perr.Pos.Column},
			Source:   diagSourceCompile,
		}
	}
	return snapshot.Diagnostic{
		Severity: snapshot.SeverityError,
		Message:  err.Error(),
		Source:   diagSourceCompile,
	}
}

// requireRef is one require("...") site found in the chunk.
type requireRef struct {
	module string
	line   int
}

// collectRequires walks the chunk for require calls with a literal
// string argument. Dynamic requires are invisible to configuration
// resolution, matching how module roots are computed elsewhere.
func collectRequires(chunk []ast.Stmt) []requireRef {
	var out []requireRef
	walkStmts(chunk, func(e ast.Expr) {
		call, ok := e.(*ast.FuncCallExpr)
		if !ok || call.Func == nil {
			return
		}
		ident, ok := call.Func.(*ast.IdentExpr)
		if !ok || ident.Value != "require" || len(call.Args) == 0 {
			return
		}
		if s, ok := call.Args[0].(*ast.StringExpr); ok && s.Value != "" {
			out = append(out, requireRef{module: s.Value, line: call.Line()})
		}
	})
	return out
}

// walkStmts visits every expression reachable from the statements.
func walkStmts(stmts []ast.Stmt, visit func(ast.Expr)) {
	for _, st := range stmts {
		walkStmt(st, visit)
	}
}

func walkStmt(st ast.Stmt, visit func(ast.Expr)) {
	switch s := st.(type) {
	case *ast.AssignStmt:
		walkExprs(s.Lhs, visit)
		walkExprs(s.Rhs, visit)
	case *ast.LocalAssignStmt:
		walkExprs(s.Exprs, visit)
	case *ast.FuncCallStmt:
		walkExpr(s.Expr, visit)
	case *ast.DoBlockStmt:
		walkStmts(s.Stmts, visit)
	case *ast.WhileStmt:
		walkExpr(s.Condition, visit)
		walkStmts(s.Stmts, visit)
	case *ast.RepeatStmt:
		walkExpr(s.Condition, visit)
		walkStmts(s.Stmts, visit)
	case *ast.IfStmt:
		walkExpr(s.Condition, visit)
		walkStmts(s.Then, visit)
		walkStmts(s.Else, visit)
	case *ast.NumberForStmt:
		walkExpr(s.Init, visit)
		walkExpr(s.Limit, visit)
		walkExpr(s.Step, visit)
		walkStmts(s.Stmts, visit)
	case *ast.GenericForStmt:
		walkExprs(s.Exprs, visit)
		walkStmts(s.Stmts, visit)
	case *ast.FuncDefStmt:
		walkExpr(s.Func, visit)
	case *ast.ReturnStmt:
		walkExprs(s.Exprs, visit)
	}
}

func walkExprs(exprs []ast.Expr, visit func(ast.Expr)) {
	for _, e := range exprs {
		walkExpr(e, visit)
	}
}

func walkExpr(e ast.Expr, visit func(ast.Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch x := e.(type) {
	case *ast.FuncCallExpr:
		walkExpr(x.Func, visit)
		walkExpr(x.Receiver, visit)
		walkExprs(x.Args, visit)
	case *ast.FunctionExpr:
		walkStmts(x.Stmts, visit)
	case *ast.AttrGetExpr:
		walkExpr(x.Object, visit)
		walkExpr(x.Key, visit)
	case *ast.TableExpr:
		for _, f := range x.Fields {
			walkExpr(f.Key, visit)
			walkExpr(f.Value, visit)
		}
	case *ast.LogicalOpExpr:
		walkExpr(x.Lhs, visit)
		walkExpr(x.Rhs, visit)
	case *ast.RelationalOpExpr:
		walkExpr(x.Lhs, visit)
		walkExpr(x.Rhs, visit)
	case *ast.StringConcatOpExpr:
		walkExpr(x.Lhs, visit)
		walkExpr(x.Rhs, visit)
	case *ast.ArithmeticOpExpr:
		walkExpr(x.Lhs, visit)
		walkExpr(x.Rhs, visit)
	case *ast.UnaryMinusOpExpr:
		walkExpr(x.Expr, visit)
	case *ast.UnaryNotOpExpr:
		walkExpr(x.Expr, visit)
	case *ast.UnaryLenOpExpr:
		walkExpr(x.Expr, visit)
	}
}

// CompileProvider is the default slow reload path: it runs the compiler
// synchronously when forced, asynchronously otherwise, and defers
// entirely behind a reload suggestion when the load is postponed.
type CompileProvider struct {
	compiler *Compiler
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewCompileProvider creates the provider.
func NewCompileProvider(c *Compiler, log zerolog.Logger) *CompileProvider {
	return &CompileProvider{compiler: c, log: log}
}

// Reload implements Provider.
func (p *CompileProvider) Reload(ctx context.Context, api LoaderAPI, req Request) {
	if req.Trigger.Postponed {
		// Defer the work; the user decides when it actually runs.
		api.SuggestReload(req.Handle)
		return
	}

	if req.Trigger.ForceSync {
		p.run(ctx, api, req)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// The caller's transaction has its own lifetime; the async
		// apply opens a fresh one.
		p.run(context.Background(), api, req)
	}()
}

func (p *CompileProvider) run(ctx context.Context, api LoaderAPI, req Request) {
	snap := p.compiler.Compile(req.Handle, req.Definition)
	api.SetLoaded(req.Handle, snap)
	api.Apply(ctx, req.Handle, snap)
	p.log.Debug().Str("file", req.Handle.Path).Int("diagnostics", len(snap.Diagnostics)).Msg("configuration compiled")
}

// Wait blocks until all asynchronous reloads have completed. Test and
// shutdown aid.
func (p *CompileProvider) Wait() {
	p.wg.Wait()
}
