// ABOUTME: Entry point for the hearthd local MCP server
// ABOUTME: Advertises host capabilities over mDNS and gates clients on approval

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/hearthlink/hearthd/internal/approval"
	"github.com/hearthlink/hearthd/internal/builtins"
	"github.com/hearthlink/hearthd/internal/capability"
	"github.com/hearthlink/hearthd/internal/config"
	"github.com/hearthlink/hearthd/internal/discovery"
	"github.com/hearthlink/hearthd/internal/protocol"
	"github.com/hearthlink/hearthd/internal/server"
	"github.com/hearthlink/hearthd/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                      _   _         _
| |__   ___  __ _ _ __ | |_| |__   __| |
| '_ \ / _ \/ _' | '__|| __| '_ \ / _' |
| | | |  __/ (_| | |   | |_| | | | (_| |
|_| |_|\___|\__,_|_|    \__|_| |_|\__,_|
`

// getConfigPath returns the path to the hearthd config file.
// Priority: HEARTHD_CONFIG env var > XDG_CONFIG_HOME/hearthd/hearthd.yaml > ~/.config/hearthd/hearthd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HEARTHD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hearthd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hearthd", "hearthd.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: hearthd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the server")
		fmt.Println("  init      Create a new config file interactively")
		fmt.Println("  version   Print the version")
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
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, falling back to defaults when none exists.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Instance:  %s\n", cfg.Server.Name)
	green.Print("    ▶ ")
	fmt.Printf("Service:   %s%s\n", cfg.Server.ServiceType, portSuffix(cfg.Server.Port))
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	fmt.Println()

	logger.Info("starting hearthd",
		"config", configPath,
		"instance", cfg.Server.Name,
		"service_type", cfg.Server.ServiceType,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	toolSet := builtins.NewSet(logger, st)

	enablement := builtins.DefaultEnablement()
	if cfg.Capabilities.DefaultsPath != "" {
		overrides, err := capability.LoadDefaults(cfg.Capabilities.DefaultsPath)
		if err != nil {
			return fmt.Errorf("loading capability defaults: %w", err)
		}
		for id, enabled := range overrides {
			enablement[id] = enabled
		}
	}
	bindings := capability.BindingsFromDefaults(enablement)

	coordinator := approval.New(newStdinPrompter(), logger)

	listener := discovery.NewManager(discovery.Config{
		InstanceName: cfg.Server.Name,
		ServiceType:  cfg.Server.ServiceType,
		Domain:       cfg.Server.Domain,
		Port:         cfg.Server.Port,
		RestartDelay: cfg.Timeouts.RestartDelay,
		Advertise:    true,
	}, logger)

	sup := server.New(cfg,
		protocol.ServerInfo{Name: "hearthd", Version: version},
		toolSet, coordinator, listener, bindings, logger)

	sup.Start()
	<-ctx.Done()

	logger.Info("shutting down")
	sup.Stop()
	return nil
}

func portSuffix(port int) string {
	if port == 0 {
		return " (ephemeral port)"
	}
	return fmt.Sprintf(" :%d", port)
}

// stdinPrompter asks the operator for a yes/no decision on the terminal.
// The approval coordinator already serializes prompts per identity; the mutex
// keeps concurrent identities from interleaving their terminal I/O.
type stdinPrompter struct {
	mu     sync.Mutex
	reader *bufio.Reader
}

func newStdinPrompter() *stdinPrompter {
	return &stdinPrompter{reader: bufio.NewReader(os.Stdin)}
}

func (p *stdinPrompter) Prompt(identity string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	yellow := color.New(color.FgYellow)
	yellow.Printf("\n  Connection request from %q\n", identity)
	fmt.Print("  Allow this client? [y/N]: ")

	input, err := p.reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(input))
	return answer == "y" || answer == "yes"
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
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

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("hearthd configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	defaults := config.Default()
	defaultConfigPath := getConfigPath()

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

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	name := prompt(reader, "Instance name", defaults.Server.Name)
	port := prompt(reader, "TCP port (0 for ephemeral)", "0")
	serviceType := prompt(reader, "mDNS service type", defaults.Server.ServiceType)

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaults.Database.Path)

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# hearthd configuration\n")
	cfg.WriteString("# Generated by hearthd init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  name: \"%s\"\n", name))
	cfg.WriteString(fmt.Sprintf("  port: %s\n", port))
	cfg.WriteString(fmt.Sprintf("  service_type: \"%s\"\n", serviceType))
	cfg.WriteString("  domain: \"local.\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("timeouts:\n")
	cfg.WriteString("  setup: \"30s\"\n")
	cfg.WriteString("  health_interval: \"30s\"\n")
	cfg.WriteString("  restart_delay: \"2s\"\n")
	cfg.WriteString("  dispatch: \"30s\"\n")
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
	fmt.Println("\nTo start the server:")
	fmt.Printf("  hearthd serve\n")

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
