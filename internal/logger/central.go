package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	global   *CentralLogger
	globalMu sync.Mutex
)

// SetGlobal sets the process-wide CentralLogger.
func SetGlobal(cl *CentralLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = cl
}

// Global returns the process-wide CentralLogger. Until SetGlobal is called it
// is a console logger at info level.
func Global() *CentralLogger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = &CentralLogger{
			defaultLevel: slog.LevelInfo,
			shared:       newTextHandler(os.Stderr, slog.LevelInfo, time.Local),
		}
	}
	return global
}

// CentralLogger owns the log outputs. Modules with a file of their own are
// routed to it, every other module shares the console and main file.
// Routes and levels are fixed at construction.
type CentralLogger struct {
	defaultLevel slog.Level
	levels       map[string]slog.Level
	shared       slog.Handler
	routes       map[string]slog.Handler

	mu    sync.Mutex
	files map[string]io.WriteCloser // keyed by module, "" is the main file
}

// NewCentralLogger opens the configured outputs.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		defaultLevel: parseLogLevel(cfg.DefaultLevel),
		levels:       make(map[string]slog.Level, len(cfg.ModuleLevels)),
		routes:       make(map[string]slog.Handler, len(cfg.ModuleOutputs)),
		files:        make(map[string]io.WriteCloser),
	}
	for module, level := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(level)
	}
	for module, mo := range cfg.ModuleOutputs {
		if mo.Level != "" {
			cl.levels[module] = parseLogLevel(mo.Level)
		}
	}

	var console slog.Handler
	if cfg.Console != nil && cfg.Console.Enabled {
		console = newTextHandler(os.Stderr, parseLogLevel(cfg.Console.Level), tz)
	}

	var shared []slog.Handler
	if console != nil {
		shared = append(shared, console)
	}
	if fo := cfg.FileOutput; fo != nil && fo.Enabled {
		h, err := cl.openFile("", fo.Path, parseLogLevel(fo.Level), RotationConfigFromFileOutput(fo))
		if err != nil {
			return nil, fmt.Errorf("failed to open main log file: %w", err)
		}
		shared = append(shared, h)
	}
	if len(shared) == 0 {
		shared = append(shared, newTextHandler(os.Stderr, cl.defaultLevel, tz))
	}
	cl.shared = joinHandlers(shared)

	for module, mo := range cfg.ModuleOutputs {
		if !mo.Enabled {
			continue
		}
		level := cl.levelOf(module)
		h, err := cl.openFile(module, mo.FilePath, level, RotationConfigFromModuleOutput(&mo, cfg.FileOutput))
		if err != nil {
			return nil, fmt.Errorf("failed to open log file for module %s: %w", module, err)
		}
		route := []slog.Handler{h}
		if mo.ConsoleAlso && console != nil {
			route = append(route, newTextHandler(os.Stderr, level, tz))
		}
		cl.routes[module] = joinHandlers(route)
	}

	return cl, nil
}

// openFile opens a JSON output. On failure every output opened so far is
// closed.
func (cl *CentralLogger) openFile(module, path string, level slog.Level, rc RotationConfig) (slog.Handler, error) {
	err := ensureFileDirectory(path)
	var w io.WriteCloser
	if err == nil {
		w, err = newFileWriter(path, rc)
	}
	if err != nil {
		_ = cl.closeFiles()
		return nil, err
	}
	cl.files[module] = w
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevelNames,
	}), nil
}

func joinHandlers(hs []slog.Handler) slog.Handler {
	if len(hs) == 1 {
		return hs[0]
	}
	return slog.NewMultiHandler(hs...)
}

// Module returns the logger for name. A dotted name such as "router.port"
// takes the route and level of its closest configured parent.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}
	h := cl.shared
	for key := name; key != ""; key = parentModule(key) {
		if r, ok := cl.routes[key]; ok {
			h = r
			break
		}
	}
	return newModuleLogger(slog.New(h), name, cl.levelOf(name), nil)
}

func (cl *CentralLogger) levelOf(name string) slog.Level {
	for key := name; key != ""; key = parentModule(key) {
		if level, ok := cl.levels[key]; ok {
			return level
		}
	}
	return cl.defaultLevel
}

func parentModule(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}

// Close closes every file output.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.closeFiles()
}

func (cl *CentralLogger) closeFiles() error {
	var errs []error
	for module, w := range cl.files {
		if err := w.Close(); err != nil {
			if module == "" {
				module = "main"
			}
			errs = append(errs, fmt.Errorf("failed to close %s log: %w", module, err))
		}
	}
	cl.files = nil
	return errors.Join(errs...)
}

// Flush is a no-op: file outputs write through on every record.
func (cl *CentralLogger) Flush() error {
	return nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

func ensureFileDirectory(path string) error {
	dir := filepath.Dir(path)
	if path == "" || dir == "." {
		return nil
	}
	const dirPermissions = 0o700
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
