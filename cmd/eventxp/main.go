package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/skip2/go-qrcode"

	"github.com/abrezinsky/eventxp/internal/app"
	"github.com/abrezinsky/eventxp/internal/config"
	"github.com/abrezinsky/eventxp/internal/logger"
)

// ANSI escape codes
const (
	reset  = "\033[0m"
	yellow = "\033[33m"
	red    = "\033[31m"
	green  = "\033[32m"
	cyan   = "\033[36m"
	bold   = "\033[1m"
)

var version = "dev"

func showBanner() {
	logo := []string{
		"   ______                 __  _  __ ____ ",
		"  / ____/   _____  ____  / /_| |/ // __ \\",
		" / __/ | | / / _ \\/ __ \\/ __/   // /_/ /",
		"/ /___ | |/ /  __/ / / / /_/   |/ ____/ ",
		"/_____/ |___/\\___/_/ /_/\\__/_/|_/_/      ",
	}
	fmt.Println()
	for _, line := range logo {
		fmt.Printf("  %s%s%s\n", yellow, line, reset)
	}
	fmt.Println()
}

// printJoinCode renders url as a terminal QR code so phones can open it
func printJoinCode(url string) {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		fmt.Printf("%sCould not render QR code: %v%s\n", red, err, reset)
		return
	}
	fmt.Print(code.ToSmallString(false))
	fmt.Printf("  %s%s%s\n\n", cyan, url, reset)
}

// cycleLogLevel cycles through debug -> info -> warn -> error
func cycleLogLevel(appLog logger.Logger) {
	order := []string{"debug", "info", "warn", "error"}
	current := strings.ToLower(appLog.GetLevel().String())

	next := "info"
	for i, name := range order {
		if name == current {
			next = order[(i+1)%len(order)]
			break
		}
	}

	appLog.SetLevel(logger.ParseLevel(next))
	fmt.Printf("%sLog level: %s%s%s\n", green, yellow, next, reset)
}

func printKeyboardHelp() {
	fmt.Printf("\n%s%s  Keyboard Shortcuts:%s\n", bold, green, reset)
	fmt.Printf("    %su%s      - Show the public URL as a QR code\n", cyan, reset)
	fmt.Printf("    %sh%s      - Toggle HTTP request logging\n", cyan, reset)
	fmt.Printf("    %sl%s      - Cycle log level (debug → info → warn → error)\n", cyan, reset)
	fmt.Printf("    %sq%s      - Quit server\n", cyan, reset)
	fmt.Printf("    %s?%s      - Show this help\n\n", cyan, reset)
}

// handleKey runs the shortcut bound to key and reports whether the server should stop
func handleKey(key byte, baseURL string, appLog logger.Logger) (quit bool) {
	switch strings.ToLower(string(key)) {
	case "u":
		printJoinCode(baseURL)
	case "h":
		if appLog.IsHTTPLoggingEnabled() {
			appLog.DisableHTTPLogging()
			fmt.Printf("%sHTTP logging disabled%s\n", yellow, reset)
		} else {
			appLog.EnableHTTPLogging()
			fmt.Printf("%sHTTP logging enabled%s\n", green, reset)
		}
	case "l":
		cycleLogLevel(appLog)
	case "q", "\x03":
		fmt.Printf("%sShutting down server...%s\n", yellow, reset)
		return true
	case "?":
		printKeyboardHelp()
	}
	return false
}

func main() {
	port := flag.Int("port", 0, "HTTP server port (overrides addr from config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides store.sqlite_path)")
	logLevel := flag.String("loglevel", "", "Log level (debug, info, warn, error)")
	noKeyboard := flag.Bool("nokeyboard", false, "Disable keyboard shortcuts")
	showVersion := flag.Bool("version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `EventXP - event lifecycle, voting and XP service

Usage:
  eventxp [options]

Options:
  -port int      HTTP server port (default from config, :8080)
  -db string     SQLite database path (default "eventxp.db")
  -loglevel str  Log level: debug, info, warn, error (default "info")
  -nokeyboard    Disable keyboard shortcuts
  -version       Show version and exit
  -help          Show this help message

Configuration is read from EVENTXP_* environment variables and the YAML
file named by EVENTXP_CONFIG. Flags win over both.

Keyboard Shortcuts (when enabled):
  u              Show the public URL as a QR code
  h              Toggle HTTP request logging
  l              Cycle log level (debug → info → warn → error)
  q              Quit server
  ?              Show keyboard help

Examples:
  eventxp                                  # Run on :8080 with eventxp.db
  eventxp -port 9000 -db /data/events.db   # Custom port and database
  EVENTXP_STORE__DRIVER=dynamodb eventxp   # Use DynamoDB tables

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("eventxp %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(context.Background())
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}
	if *port != 0 {
		cfg.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.Store.SQLitePath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	showBanner()

	appLog := logger.NewWithOptions(logger.Options{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLog)
	if err != nil {
		log.Fatal("Failed to initialize application: ", err)
	}
	defer a.Close()

	printJoinCode(a.BaseURL())

	if !*noKeyboard {
		printKeyboardHelp()
		go listenForKeyboard(a.BaseURL(), appLog, stop)
	} else {
		fmt.Printf("%sKeyboard shortcuts disabled (use -nokeyboard=false to enable)%s\n\n", yellow, reset)
	}

	if err := a.Run(ctx, cfg.Addr); err != nil {
		appLog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}
