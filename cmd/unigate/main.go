// ABOUTME: Entry point for the unigate messaging gateway
// ABOUTME: Subcommands for serving, config setup and querying a running instance

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"unigate/internal/config"
	"unigate/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _             _
 _   _ _ __ (_) __ _  __ _| |_ ___
| | | | '_ \| |/ _' |/ _' | __/ _ \
| |_| | | | | | (_| | (_| | ||  __/
 \__,_|_| |_|_|\__, |\__,_|\__\___|
               |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: UNIGATE_CONFIG env var > XDG_CONFIG_HOME/unigate/gateway.yaml > ~/.config/unigate/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("UNIGATE_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "unigate", "gateway.yaml")
}

// getDataPath returns the path to the unigate data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "unigate")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: unigate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway")
		fmt.Println("  init     Create a config file interactively")
		fmt.Println("  status   Show channel state of a running gateway")
		fmt.Println("  stats    Show message statistics of a running gateway")
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
	case "status":
		err = runStatus(ctx)
	case "stats":
		err = runStats(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Drafts:   %s\n", cfg.Outbound.DraftsDir)

	var channels []string
	for _, ch := range cfg.EnabledChannels() {
		channels = append(channels, string(ch))
	}
	green.Print("    ▶ ")
	if len(channels) == 0 {
		fmt.Println("Channels: none enabled")
	} else {
		fmt.Printf("Channels: %s\n", strings.Join(channels, ", "))
	}
	fmt.Println()

	logger.Info("starting unigate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"channels", channels,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
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
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

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

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
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
		level: h.level,
		attrs: newAttrs,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return h
}

// queryAPI fetches a JSON document from the running gateway.
func queryAPI(ctx context.Context, path string, out any) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the gateway running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runStatus(ctx context.Context) error {
	var body struct {
		Channels []struct {
			Channel      string `json:"channel"`
			Connected    bool   `json:"connected"`
			LastError    string `json:"last_error"`
			RestartCount int    `json:"restart_count"`
		} `json:"channels"`
	}
	if err := queryAPI(ctx, "/api/channels", &body); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	if len(body.Channels) == 0 {
		fmt.Println("no channels configured")
		return nil
	}
	for _, ch := range body.Channels {
		if ch.Connected {
			green.Print("  ● ")
		} else {
			red.Print("  ○ ")
		}
		fmt.Printf("%-10s", ch.Channel)
		if ch.RestartCount > 0 {
			gray.Printf(" restarts=%d", ch.RestartCount)
		}
		if !ch.Connected && ch.LastError != "" {
			gray.Printf(" last_error=%q", ch.LastError)
		}
		fmt.Println()
	}
	return nil
}

func runStats(ctx context.Context) error {
	var body struct {
		Total       int            `json:"total"`
		ByChannel   map[string]int `json:"by_channel"`
		Unprocessed int            `json:"unprocessed"`
	}
	if err := queryAPI(ctx, "/api/stats", &body); err != nil {
		return err
	}

	fmt.Printf("messages:    %d\n", body.Total)
	fmt.Printf("unprocessed: %d\n", body.Unprocessed)
	for ch, n := range body.ByChannel {
		fmt.Printf("  %-10s %d\n", ch, n)
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("unigate configuration setup")
	fmt.Println("===========================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")
	defaultDraftsDir := filepath.Join(defaultDataPath, "drafts")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Storage Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)
	draftsDir := prompt(reader, "Outbound drafts directory", defaultDraftsDir)

	fmt.Println("\n--- Channel Configuration ---")
	enableTelegram := yesNo(prompt(reader, "Enable Telegram?", "no"))
	var telegramCreds string
	if enableTelegram {
		telegramCreds = prompt(reader, "Telegram credentials file",
			filepath.Join(filepath.Dir(outputFile), "telegram.toml"))
	}
	enableDiscord := yesNo(prompt(reader, "Enable Discord?", "no"))
	var discordCreds string
	if enableDiscord {
		discordCreds = prompt(reader, "Discord credentials file",
			filepath.Join(filepath.Dir(outputFile), "discord.toml"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# unigate configuration\n")
	cfg.WriteString("# Generated by unigate init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n\n", httpAddr))

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))

	cfg.WriteString("pipeline:\n")
	cfg.WriteString("  queue_size: 256\n")
	cfg.WriteString("  workers: 4\n")
	cfg.WriteString("  urgent_keywords: [\"urgent\", \"asap\", \"emergency\"]\n")
	cfg.WriteString("  mention_stale_medium: \"48h\"\n")
	cfg.WriteString("  mention_stale_high: \"72h\"\n")
	cfg.WriteString("  notify_rate_per_minute: 10\n\n")

	cfg.WriteString("outbound:\n")
	cfg.WriteString(fmt.Sprintf("  drafts_dir: %q\n", draftsDir))
	cfg.WriteString("  max_send_retries: 3\n")
	cfg.WriteString("  send_rate_per_minute: 10\n\n")

	cfg.WriteString("supervisor:\n")
	cfg.WriteString("  backoff_initial: \"1s\"\n")
	cfg.WriteString("  backoff_max: \"1m\"\n\n")

	cfg.WriteString("channels:\n")
	cfg.WriteString("  telegram:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", enableTelegram))
	if enableTelegram {
		cfg.WriteString(fmt.Sprintf("    credentials_file: %q\n", telegramCreds))
		cfg.WriteString("    allowed_users: []\n")
	}
	cfg.WriteString("  discord:\n")
	cfg.WriteString(fmt.Sprintf("    enabled: %t\n", enableDiscord))
	if enableDiscord {
		cfg.WriteString(fmt.Sprintf("    credentials_file: %q\n", discordCreds))
		cfg.WriteString("    allowed_guilds: []\n")
		cfg.WriteString("    allowed_channels: []\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	if enableTelegram || enableDiscord {
		fmt.Println("\nRemember to create the credential files, e.g.:")
		if enableTelegram {
			fmt.Printf("  echo 'bot_token = \"${TELEGRAM_BOT_TOKEN}\"' > %s\n", telegramCreds)
		}
		if enableDiscord {
			fmt.Printf("  echo 'token = \"${DISCORD_BOT_TOKEN}\"' > %s\n", discordCreds)
		}
	}
	fmt.Println("\nTo start the gateway:")
	fmt.Println("  unigate serve")

	return nil
}

func yesNo(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
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
