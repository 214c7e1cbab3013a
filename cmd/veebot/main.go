// Veebot - Main entry point
//
// Veebot is a Discord music and image bot. It plays YouTube audio in voice
// channels and posts derpibooru images, driven by prefix commands in chat.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/veebot/veebot/internal/bot"
	"github.com/veebot/veebot/internal/derpi"
	"github.com/veebot/veebot/internal/discord"
	"github.com/veebot/veebot/internal/player"
	"github.com/veebot/veebot/internal/ytsearch"
	"github.com/veebot/veebot/pkg/config"
	"github.com/veebot/veebot/pkg/errors"
	"github.com/veebot/veebot/pkg/httpjson"
	"github.com/veebot/veebot/pkg/invite"
	"github.com/veebot/veebot/pkg/logger"
	"github.com/veebot/veebot/pkg/metrics"
	"github.com/veebot/veebot/pkg/qr"
)

var (
	version   = "0.3.1"
	buildTime = "unknown"
)

type cliConfig struct {
	command      string
	configPath   string
	configOutput string
	token        string
	prefix       string
	logLevel     string
	verbose      bool
	version      bool
	help         bool
	// Invite command flags
	inviteClientID string
	invitePNG      string
}

func main() {
	cliCfg := parseFlags()

	if cliCfg.version {
		printVersion()
		return
	}

	if cliCfg.help {
		printHelp()
		return
	}

	// Handle config commands
	if cliCfg.command == "init" {
		runInitCommand(cliCfg)
		return
	}

	if cliCfg.command == "validate" {
		runValidateCommand(cliCfg)
		return
	}

	if cliCfg.command == "setup" {
		runSetupCommand(cliCfg)
		return
	}

	if cliCfg.command == "invite" {
		runInviteCommand(cliCfg)
		return
	}

	if cliCfg.command == "version" {
		printVersion()
		return
	}

	if cliCfg.command == "help" {
		// Check if help is for a specific command
		args := flag.Args()
		if len(args) > 1 {
			printCommandHelp(args[1])
		} else {
			printHelp()
		}
		return
	}

	if cliCfg.command != "" {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cliCfg.command)
		printHelp()
		os.Exit(2)
	}

	// Default: run the bot
	runBot(cliCfg)
}

// runInitCommand generates an example configuration file
func runInitCommand(cliCfg cliConfig) {
	outputPath := cliCfg.configOutput
	if outputPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to determine home directory: %v", err)
		}
		outputPath = filepath.Join(homeDir, ".veebot", "config.toml")
	}
	if err := config.GenerateExampleConfig(outputPath); err != nil {
		log.Fatalf("Failed to generate example config: %v", err)
	}
	log.Printf("✓ Example configuration written to: %s", outputPath)
	log.Println("")
	log.Println("Quick start:")
	log.Println("  1. Fill in discord.token and youtube.api_key (or run: veebot setup)")
	log.Println("  2. Check the result:  veebot validate")
	log.Println("  3. Invite the bot:    veebot invite")
	log.Println("  4. Run it:            veebot")
}

// runValidateCommand validates the configuration
func runValidateCommand(cliCfg cliConfig) {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	log.Printf("✓ Configuration is valid!")
	log.Printf("  Prefix: %s", cfg.Discord.CommandPrefix)
	log.Printf("  Derpibooru: %s", cfg.Derpi.BaseURL)
	log.Printf("  Queue size: %d", cfg.Player.MaxQueueSize)
	log.Printf("  Metrics: %v", cfg.Metrics.Enabled)
}

var (
	setupTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	setupBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 2).MarginTop(1)
)

// runSetupCommand runs the interactive setup wizard
func runSetupCommand(cliCfg cliConfig) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		log.Fatal("Setup needs an interactive terminal. Run 'veebot init' and edit the file instead.")
	}

	// Start from the existing configuration when there is a readable one,
	// defaults otherwise
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Printf("Ignoring existing configuration: %v", err)
		cfg = config.DefaultConfig()
	}

	fmt.Println()
	fmt.Println(setupTitleStyle.Render("Veebot setup"))
	fmt.Println("Answers are written to the config file at the end. Press Esc to cancel.")
	fmt.Println()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Description("Bot tab of your application at discord.com/developers").
				EchoMode(huh.EchoModePassword).
				Validate(required("bot token")).
				Value(&cfg.Discord.Token),
			huh.NewInput().
				Title("Application client id").
				Description("General Information tab, used to build the invite URL").
				Value(&cfg.Discord.ClientID),
			huh.NewInput().
				Title("Command prefix").
				Validate(required("command prefix")).
				Value(&cfg.Discord.CommandPrefix),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("YouTube Data API key").
				Description("Used by the play command to search for videos").
				EchoMode(huh.EchoModePassword).
				Validate(required("YouTube API key")).
				Value(&cfg.YouTube.APIKey),
			huh.NewInput().
				Title("Derpibooru filter id").
				Description("Content filter for the pic command, empty for the site default").
				Value(&cfg.Derpi.Filter),
			huh.NewConfirm().
				Title("Serve Prometheus metrics?").
				Value(&cfg.Metrics.Enabled),
		),
	)

	if err := form.Run(); err != nil {
		if stderrors.Is(err, huh.ErrUserAborted) {
			fmt.Println("Setup cancelled, nothing written.")
			return
		}
		log.Fatalf("Setup failed: %v", err)
	}

	savePath := cliCfg.configPath
	if savePath == "" {
		savePath = config.ConfigPaths()[0]
	}
	if err := config.Save(cfg, savePath); err != nil {
		log.Fatalf("Failed to save configuration: %v", err)
	}

	summary := lipgloss.JoinVertical(lipgloss.Left,
		setupTitleStyle.Render("Veebot is configured"),
		"",
		"Config:  "+savePath,
		"Prefix:  "+cfg.Discord.CommandPrefix,
		"Metrics: "+map[bool]string{true: "on (" + cfg.Metrics.Addr + ")", false: "off"}[cfg.Metrics.Enabled],
	)
	fmt.Println(setupBoxStyle.Render(summary))
	fmt.Println()
	fmt.Println("Start the bot:  veebot")
	if cfg.Discord.ClientID != "" {
		fmt.Println("Invite it:      veebot invite")
	}
}

func required(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("the %s is required", what)
		}
		return nil
	}
}

// runInviteCommand prints the OAuth2 URL that adds the bot to a guild,
// plus a scannable QR rendering of it
func runInviteCommand(cliCfg cliConfig) {
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	clientID := cfg.Discord.ClientID
	if cliCfg.inviteClientID != "" {
		clientID = cliCfg.inviteClientID
	}
	if clientID == "" {
		log.Fatalf("No application client id configured. Set discord.client_id or pass --client-id.")
	}

	builder, err := invite.NewBuilder(clientID, cfg.Discord.InvitePermissions)
	if err != nil {
		log.Fatalf("Failed to build the invite URL: %v", err)
	}
	inviteURL, err := builder.URL()
	if err != nil {
		log.Fatalf("Failed to build the invite URL: %v", err)
	}

	fmt.Println("Open this URL to add the bot to a server:")
	fmt.Println()
	fmt.Println("  " + inviteURL)

	if cliCfg.invitePNG != "" {
		img, err := qr.PNG(inviteURL, 0)
		if err != nil {
			log.Fatalf("Failed to render the QR code: %v", err)
		}
		if err := os.WriteFile(cliCfg.invitePNG, img, 0644); err != nil {
			log.Fatalf("Failed to write %s: %v", cliCfg.invitePNG, err)
		}
		fmt.Println()
		fmt.Printf("✓ QR code written to %s\n", cliCfg.invitePNG)
		return
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		code, err := qr.Terminal(inviteURL)
		if err != nil {
			log.Fatalf("Failed to render the QR code: %v", err)
		}
		fmt.Println()
		fmt.Println("Or scan it:")
		fmt.Println(code)
	}
}

// runBot starts the bot and blocks until a shutdown signal arrives
func runBot(cliCfg cliConfig) {
	log.Printf("Starting veebot v%s", version)

	// Load configuration file
	cfg, err := config.Load(cliCfg.configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Apply CLI flag overrides
	if cliCfg.token != "" {
		cfg.Discord.Token = cliCfg.token
	}
	if cliCfg.prefix != "" {
		cfg.Discord.CommandPrefix = cliCfg.prefix
	}
	if cliCfg.logLevel != "" {
		cfg.Logging.Level = cliCfg.logLevel
	}

	// Validate final configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Setup logging
	setupLogging(cfg)
	applog := logger.Global()
	errors.SetLogger(applog)

	// REST client, then a quick handshake with the API to fetch the
	// gateway endpoint and confirm the token works
	rest, err := discord.NewRest(cfg.Discord.Token, applog)
	if err != nil {
		log.Fatalf("Failed to create the Discord client: %v", err)
	}

	hsCtx, hsCancel := context.WithTimeout(context.Background(), 15*time.Second)
	gw, err := rest.GetGatewayBot(hsCtx)
	if err != nil {
		hsCancel()
		log.Fatalf("Failed to reach the Discord API: %v", err)
	}
	me, err := rest.GetCurrentUser(hsCtx)
	hsCancel()
	if err != nil {
		log.Fatalf("Failed to fetch the bot user: %v", err)
	}
	log.Printf("Logged in as %s", me.Username)
	log.Printf("Gateway endpoint: %s", gw.URL)

	state := discord.NewState()
	session := discord.NewSession(cfg.Discord.Token, gw.URL, state, applog)

	// Audio pipeline
	source, err := player.NewExecProvider(cfg.Player.StreamCommand, applog)
	if err != nil {
		log.Fatalf("Invalid player.stream_command: %v", err)
	}
	manager, err := player.NewManager(session, state, source, player.Config{
		MaxQueueSize: cfg.Player.MaxQueueSize,
		IdleTimeout:  cfg.GetIdleTimeout(),
	}, applog)
	if err != nil {
		log.Fatalf("Failed to start the player manager: %v", err)
	}

	// Search clients share one HTTP client
	httpCfg := cfg.ToHTTPConfig()
	httpCfg.Logger = applog
	httpClient := httpjson.NewClient(httpCfg)

	videos := ytsearch.NewClient(httpClient, cfg.YouTube.APIKey)
	images, err := derpi.NewClient(httpClient, derpi.Config{
		BaseURL:      cfg.Derpi.BaseURL,
		Filter:       cfg.Derpi.Filter,
		AlwaysOnTags: cfg.Derpi.AlwaysOnTags,
	})
	if err != nil {
		log.Fatalf("Invalid derpibooru configuration: %v", err)
	}

	b := bot.New(bot.Deps{
		Rest:    rest,
		State:   state,
		Players: manager,
		Videos:  videos,
		Images:  images,
	}, bot.Config{Prefix: cfg.Discord.CommandPrefix}, applog)

	session.OnMessageCreate(b.HandleMessage)
	manager.OnPlaybackError(b.ReportPlaybackFailure)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return session.Run(ctx)
	})

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}

		g.Go(func() error {
			log.Printf("Metrics listening on http://%s/metrics", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutCtx)
		})
	}

	log.Printf("veebot is running (prefix %q)", cfg.Discord.CommandPrefix)
	log.Println("Press Ctrl+C to stop")

	<-ctx.Done()
	// Restore default signal handling so a second Ctrl+C force-kills
	stop()
	log.Println("Shutting down...")

	manager.Shutdown()
	b.Close()

	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		if stderrors.Is(err, discord.ErrAuthenticationFailed) {
			log.Fatalf("Discord rejected the bot token. Check discord.token in your configuration.")
		}
		log.Fatalf("veebot exited with an error: %v", err)
	}
	log.Println("veebot stopped")
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&cfg.configOutput, "config-output", "", "Output path for the 'init' command")
	flag.StringVar(&cfg.token, "token", "", "Discord bot token (overrides config)")
	flag.StringVar(&cfg.prefix, "prefix", "", "Command prefix (overrides config)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging (sets log level to debug)")
	flag.BoolVar(&cfg.version, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.help, "help", false, "Show help message")

	// Invite command flags
	flag.StringVar(&cfg.inviteClientID, "client-id", "", "Application client id for 'invite' (overrides config)")
	flag.StringVar(&cfg.invitePNG, "png", "", "Write the invite QR code to this PNG file instead of the terminal")

	flag.Parse()

	// Check for command-line commands (first argument after flags)
	args := flag.Args()
	if len(args) > 0 {
		cfg.command = args[0]
	}

	// Set verbose flag if -v is used
	if cfg.verbose {
		cfg.logLevel = "debug"
	}

	return cfg
}

func setupLogging(cfg *config.Config) {
	// Initialize the global structured logger
	if err := logger.Initialize(cfg.Logging.Level, cfg.Logging.Format, cfg.LogOutput()); err != nil {
		// Fallback to standard logging if initialization fails
		log.Printf("Warning: Failed to initialize structured logger: %v", err)
		log.Printf("Falling back to standard logging")
	}
}

func printVersion() {
	fmt.Printf("veebot v%s\n", version)
	fmt.Printf("Build time: %s\n", buildTime)
	fmt.Println("https://github.com/veebot/veebot")
}

func printHelp() {
	helpText := `USAGE:
    veebot [command] [flags]

COMMANDS:
    init        Write an example configuration file
    validate    Validate the configuration
    setup       Run the interactive setup wizard
    invite      Print the URL (and QR code) that adds the bot to a server
    version     Show version information
    help        Show this help message

    Run with no command to start the bot.

EXAMPLES:
    # First-time setup (interactive)
    veebot setup

    # Or start from the example config
    veebot init
    $EDITOR ~/.veebot/config.toml
    veebot validate

    # Invite the bot to a server, then run it
    veebot invite
    veebot

FLAGS:
    -config string      Path to configuration file (default: ~/.veebot/config.toml)
    -token string       Discord bot token (overrides config)
    -prefix string      Command prefix (overrides config)
    -log-level string   Log level: debug, info, warn, error
    -v                  Verbose (debug) logging
    -version            Show version information

CONFIGURATION:
    Configuration is read from the first existing file of:
        ~/.veebot/config.toml
        /etc/veebot/config.toml
        ./veebot.toml

    Every config key also has a VEEBOT_* environment override, for
    example VEEBOT_DISCORD_TOKEN and VEEBOT_YOUTUBE_API_KEY.

DOCUMENTATION:
    https://github.com/veebot/veebot
`
	fmt.Println(helpText)
}

func printCommandHelp(command string) {
	var help string

	switch command {
	case "init":
		help = `COMMAND: init

Write an example configuration file with every key present and
documented defaults filled in.

USAGE:
    veebot init [-config-output path]

The file goes to ~/.veebot/config.toml unless -config-output says
otherwise.`
	case "validate":
		help = `COMMAND: validate

Load the configuration, apply environment overrides and report the
first problem found, if any.

USAGE:
    veebot validate [-config path]`
	case "setup":
		help = `COMMAND: setup

Interactive first-run wizard. Asks for the bot token, the application
client id and the YouTube API key, then writes the config file.

USAGE:
    veebot setup [-config path]`
	case "invite":
		help = `COMMAND: invite

Print the OAuth2 authorization URL that adds the bot to a server. On a
terminal the URL is also rendered as a QR code.

USAGE:
    veebot invite [-client-id id] [-png out.png]

The requested permission bits come from discord.invite_permissions.`
	default:
		help = fmt.Sprintf("No detailed help for %q. Run 'veebot help' for the command list.", command)
	}

	fmt.Println(help)
}
