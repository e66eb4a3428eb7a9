// Package main is the scriptroots inspection tool: it resolves script
// configurations for a workspace, prints the aggregated module roots,
// and can watch the workspace and keep configurations synchronized.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/scriptroots/internal/cache"
	"github.com/dshills/scriptroots/internal/notify"
	"github.com/dshills/scriptroots/internal/persist"
	"github.com/dshills/scriptroots/internal/reload"
	"github.com/dshills/scriptroots/internal/roots"
	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/settings"
	"github.com/dshills/scriptroots/internal/snapshot"
	"github.com/dshills/scriptroots/internal/vfs"
	"github.com/dshills/scriptroots/internal/watch"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

type options struct {
	workspace  string
	configPath string
	logLevel   string
	autoReload bool
	command    string
}

func run() int {
	opts := parseFlags()

	log, err := newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	env, err := newEnvironment(opts, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer env.shutdown()

	ctx := context.Background()
	switch opts.command {
	case "scan":
		err = env.scan(ctx)
	case "watch":
		err = env.watchLoop(ctx)
	case "dump":
		err = env.dump()
	default:
		flag.Usage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.workspace, "workspace", ".", "Workspace directory")
	flag.StringVar(&opts.workspace, "w", ".", "Workspace directory (shorthand)")
	flag.StringVar(&opts.configPath, "config", "", "Path to settings file (default: <workspace>/.scriptroots/settings.toml)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	flag.BoolVar(&opts.autoReload, "auto-reload", false, "Reload stale configurations without prompting (watch mode)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "scriptroots - script configuration inspector\n\n")
		fmt.Fprintf(os.Stderr, "Usage: scriptroots [options] <scan|watch|dump>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  scan   Resolve all script configurations and print module roots\n")
		fmt.Fprintf(os.Stderr, "  watch  Scan, then keep configurations synchronized with file changes\n")
		fmt.Fprintf(os.Stderr, "  dump   Print the persisted attribute store as JSON\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("scriptroots %s (%s)\n", version, commit)
		os.Exit(0)
	}

	opts.command = flag.Arg(0)
	return opts
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// environment wires the configuration core for one workspace.
type environment struct {
	workspace string
	fs        vfs.FS
	cfg       settings.Settings
	store     *persist.Store
	manager   *reload.Manager
	provider  *reload.CompileProvider
	queue     *notify.Queue
	log       zerolog.Logger
}

func newEnvironment(opts options, log zerolog.Logger) (*environment, error) {
	workspace, err := filepath.Abs(opts.workspace)
	if err != nil {
		return nil, err
	}

	fsys := vfs.NewOSFS()

	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(workspace, ".scriptroots", "settings.toml")
	}
	cfg, err := settings.Load(fsys, cfgPath)
	if err != nil {
		return nil, err
	}
	if opts.autoReload {
		cfg.AutoReload = true
	}

	storePath := cfg.AttributeCache
	var store *persist.Store
	if storePath != "" {
		if !filepath.IsAbs(storePath) {
			storePath = filepath.Join(workspace, storePath)
		}
		if err := fsys.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
			return nil, err
		}
		store = persist.Open(fsys, storePath, persist.WithLogger(log))
	}

	defs := script.NewRegistry()
	defs.Register(&script.Definition{
		Name:     "lua",
		Patterns: []string{"**/*.lua", "*.lua"},
		Runtime: snapshot.Runtime{
			Name:    cfg.Runtime.Name,
			Version: cfg.Runtime.Version,
			Path:    cfg.Runtime.Path,
		},
		SearchPaths:           cfg.SearchPaths,
		AllowOutsideWorkspace: true,
	})
	defs.SetReady(true)

	compiler := reload.NewCompiler(fsys, workspace,
		reload.WithExtraSearchPaths(absolutePaths(workspace, cfg.SearchPaths)...),
		reload.WithDefaultRuntime(snapshot.Runtime{Name: cfg.Runtime.Name, Version: cfg.Runtime.Version}),
		reload.WithCompilerLogger(log),
	)
	provider := reload.NewCompileProvider(compiler, log)

	queue := notify.NewQueue(consoleUI{log: log}, notify.WithLogger(log))

	// Staleness: the stored fingerprint must still match file content.
	stale := func(h script.Handle) bool {
		if store == nil {
			return true
		}
		rec, ok := store.Get(h.ID)
		if !ok {
			return true
		}
		data, err := fsys.ReadFile(h.Path)
		if err != nil {
			return false
		}
		return persist.Fingerprint(data) == rec.Fingerprint
	}

	var c *cache.Cache
	var tracker *roots.Tracker
	copts := []cache.Option{
		cache.WithLogger(log),
		cache.WithStaleness(stale),
		cache.WithGuard(func(ctx context.Context) error { return tracker.RequireTransaction(ctx) }),
	}
	if store != nil {
		copts = append(copts, cache.WithPersister(store))
	}
	c = cache.New(copts...)
	tracker = roots.NewTracker(c, roots.WithLogger(log))

	var loaders []reload.Loader
	loaders = append(loaders, reload.NewOutsiderLoader(workspace, log))
	if store != nil {
		loaders = append(loaders, reload.NewAttributeLoader(store, fsys, log))
	}

	mgr := reload.NewManager(defs, c, tracker,
		reload.WithLoaders(loaders...),
		reload.WithProvider(provider),
		reload.WithSettings(cfg),
		reload.WithNotifier(queue),
		reload.WithLogger(log),
	)

	return &environment{
		workspace: workspace,
		fs:        fsys,
		cfg:       cfg,
		store:     store,
		manager:   mgr,
		provider:  provider,
		queue:     queue,
		log:       log,
	}, nil
}

func (e *environment) shutdown() {
	e.provider.Wait()
	e.queue.Close()
	if e.store != nil {
		if err := e.store.Save(); err != nil {
			e.log.Warn().Err(err).Msg("attribute store not saved")
		}
	}
}

// scan resolves every script in the workspace and prints the aggregate.
func (e *environment) scan(ctx context.Context) error {
	files, err := e.findScripts()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, h := range files {
		h := h
		g.Go(func() error {
			if _, ok := e.manager.Configuration(gctx, h); !ok {
				e.log.Warn().Str("file", h.Path).Msg("no configuration resolved")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tracker := e.manager.Tracker()
	fmt.Printf("scripts: %d\n", len(files))
	if rt, ok := tracker.FirstRuntime(); ok {
		fmt.Printf("runtime: %s %s\n", rt.Name, rt.Version)
	}
	fmt.Println("module roots:")
	for _, r := range tracker.AllModuleRoots() {
		fmt.Printf("  %s\n", r)
	}
	return nil
}

// watchLoop scans, then maps file events to cache invalidation and
// batch reloads until interrupted.
func (e *environment) watchLoop(ctx context.Context) error {
	if err := e.scan(ctx); err != nil {
		return err
	}

	w, err := watch.New(watch.WithDebounce(e.cfg.Debounce()), watch.WithLogger(e.log))
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.WatchRecursive(e.workspace); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	e.log.Info().Str("workspace", e.workspace).Msg("watching")
	for {
		select {
		case <-signals:
			return nil
		case err, ok := <-w.Errors():
			if ok {
				e.log.Warn().Err(err).Msg("watcher error")
			}
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *environment) handleEvent(ctx context.Context, ev watch.Event) {
	h, err := script.NewHandle(ev.Path)
	if err != nil {
		return
	}

	c := e.manager.Cache()
	if ev.Op.Has(watch.OpRemove) || ev.Op.Has(watch.OpRename) {
		// The file is gone; its stat-based identity is unrecoverable.
		c.RemoveByPath(h.Path)
		e.manager.Tracker().Invalidate()
		return
	}

	c.MarkOutOfDate(cache.ScopeFiles(h.ID))
	if e.manager.EnsureUpToDate(ctx, []script.Handle{h}, reload.EnsureOptions{}) {
		return
	}
	e.log.Debug().Str("file", h.Path).Msg("configuration refreshed")
}

// dump prints the attribute store as JSON.
func (e *environment) dump() error {
	if e.store == nil {
		return fmt.Errorf("attribute cache disabled in settings")
	}
	data, err := e.store.DumpJSON()
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// findScripts lists every definition-matched script in the workspace.
func (e *environment) findScripts() ([]script.Handle, error) {
	var out []script.Handle
	err := filepath.WalkDir(e.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".scriptroots" {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".lua" {
			return nil
		}
		h, err := script.NewHandle(path)
		if err != nil {
			// Unreadable file, skip.
			return nil
		}
		out = append(out, h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func absolutePaths(base string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		out = append(out, p)
	}
	return out
}

// consoleUI logs UI collaborator callbacks; the tool has no editor to
// repaint.
type consoleUI struct {
	log zerolog.Logger
}

func (u consoleUI) RestartHighlighting(h script.Handle) {
	u.log.Info().Str("file", h.Path).Msg("highlighting restart")
}

func (u consoleUI) ShowDiagnostics(h script.Handle, diags []snapshot.Diagnostic) {
	for _, d := range diags {
		u.log.Info().
			Str("file", h.Path).
			Int("line", d.Pos.Line).
			Str("severity", d.Severity.String()).
			Msg(d.Message)
	}
}

func (u consoleUI) SuggestReload(h script.Handle) {
	u.log.Info().Str("file", h.Path).Msg("configuration changed, reload with 'scriptroots scan'")
}