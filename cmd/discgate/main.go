// ABOUTME: Entry point for the discgate chat gateway daemon
// ABOUTME: Multiplexes workflow triggers over a single Discord connection

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/flowhook/discgate/internal/chat"
	"github.com/flowhook/discgate/internal/client"
	"github.com/flowhook/discgate/internal/config"
	"github.com/flowhook/discgate/internal/discord"
	"github.com/flowhook/discgate/internal/gateway"
	"github.com/flowhook/discgate/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _ _                     _
  __| (_)___  ___ __ _  __ _| |_ ___
 / _' | / __|/ __/ _' |/ _' | __/ _ \
| (_| | \__ \ (_| (_| | (_| | ||  __/
 \__,_|_|___/\___\__, |\__,_|\__\___|
                 |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: DISCGATE_CONFIG env var > XDG_CONFIG_HOME/discgate/gateway.yaml > ~/.config/discgate/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DISCGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "discgate", "gateway.yaml")
}

// getDataPath returns the path to the discgate data directory.
// Priority: XDG_DATA_HOME/discgate > ~/.local/share/discgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "discgate")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: discgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve          Start the gateway daemon")
		fmt.Println("  init           Create a new config file interactively")
		fmt.Println("  health         Check gateway health over the link socket")
		fmt.Println("  logs [limit]   Show recent activity log entries")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "logs":
		err = runLogs(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// eventForwarder breaks the construction cycle between the platform client
// and the gateway: the client needs a sink before the gateway exists.
type eventForwarder struct {
	mu sync.Mutex
	gw *gateway.Gateway
}

func (f *eventForwarder) set(gw *gateway.Gateway) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gw = gw
}

func (f *eventForwarder) HandleEvent(ctx context.Context, ev chat.Event) int {
	f.mu.Lock()
	gw := f.gw
	f.mu.Unlock()
	if gw == nil {
		return 0
	}
	return gw.HandleEvent(ctx, ev)
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Open the activity store before the logger so log records can be teed
	// into it.
	activity, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening activity store: %w", err)
	}
	defer activity.Close()

	console := setupHandler(cfg.Logging)
	tee := store.NewLogHandler(console, activity)
	defer tee.Close()
	logger := slog.New(tee)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Link:     %s\n", cfg.Link.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Workflow.TestMode {
		green.Print("    ▶ ")
		cyan.Println("Mode:     test")
	}

	fmt.Println()

	logger.Info("starting discgate",
		"config", configPath,
		"link_addr", cfg.Link.Addr,
		"database", cfg.Database.Path,
	)

	fwd := &eventForwarder{}
	platform := discord.New(fwd, logger)
	defer platform.Close()

	gw := gateway.New(cfg, platform, activity, logger)
	fwd.set(gw)

	return gw.Run(ctx)
}

func setupHandler(cfg config.LoggingConfig) slog.Handler {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return &colorHandler{level: level}
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	conn, err := client.Connect(ctx, cfg.Link.Addr, quietLogger())
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", cfg.Link.Addr, err)
	}
	defer conn.Close()

	h, err := conn.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Printf("%s (session: %s)\n", h.Status, h.Session)
	return nil
}

func runLogs(ctx context.Context) error {
	limit := 50
	if len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit: %s", os.Args[2])
		}
		limit = n
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	conn, err := client.Connect(ctx, cfg.Link.Addr, quietLogger())
	if err != nil {
		return fmt.Errorf("gateway unreachable at %s: %w", cfg.Link.Addr, err)
	}
	defer conn.Close()

	entries, err := conn.RecentLogs(ctx, limit)
	if err != nil {
		return fmt.Errorf("fetching logs: %w", err)
	}

	for _, e := range entries {
		fmt.Printf("%s %-5s %s\n", e.At, strings.ToUpper(e.Level), e.Message)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("discgate configuration setup")
	fmt.Println("============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "activity.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Link socket
	fmt.Println("\n--- Link Configuration ---")
	linkAddr := prompt(reader, "Link listen address (loopback)", config.DefaultLinkAddr)

	// Workflow engine
	fmt.Println("\n--- Workflow Engine Configuration ---")
	baseURL := prompt(reader, "Workflow engine base URL", "http://localhost:5678")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite activity database path", defaultDbPath)

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# discgate configuration\n")
	cfg.WriteString("# Generated by discgate init\n\n")

	cfg.WriteString("link:\n")
	cfg.WriteString(fmt.Sprintf("  addr: \"%s\"\n", linkAddr))
	cfg.WriteString("\n")

	cfg.WriteString("workflow:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", baseURL))
	cfg.WriteString("  test_mode: false\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("timing:\n")
	cfg.WriteString("  command_debounce: \"500ms\"\n")
	cfg.WriteString("  placeholder_tick: \"800ms\"\n")
	cfg.WriteString("  finalize_retry_delay: \"300ms\"\n")
	cfg.WriteString("  status_poll_interval: \"3s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the gateway:")
	fmt.Printf("  discgate serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
