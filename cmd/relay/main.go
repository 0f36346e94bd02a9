// Command relay serves the event relay: it multiplexes an agent runtime's
// raw event stream into canonical SSE events, with provider failover,
// ask-user suspensions, and bounded per-thread context.
//
// Usage:
//
//	relay serve --config relay.yaml
//	relay validate --config relay.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/relaykit/relay/pkg/config"
	"github.com/relaykit/relay/pkg/logger"
	"github.com/relaykit/relay/pkg/memory"
	"github.com/relaykit/relay/pkg/questions"
	"github.com/relaykit/relay/pkg/server"
	"github.com/relaykit/relay/pkg/tool/mcptoolset"
	"github.com/relaykit/relay/pkg/translate"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the relay server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("relay version %s\n", version)
	return nil
}

// ServeCmd starts the relay server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch config file for changes."`
	Demo  bool `help:"Serve a scripted demo runtime instead of a real one."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, loader, err := config.LoadFile(ctx, cli.Config)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer loader.Close()
	slog.Info("Loaded configuration", "path", cli.Config)

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	registry := questions.NewRegistry(cfg.Questions.Timeout)
	mem := memory.NewManager(
		memory.WithManagerLogger(slog.Default()),
	)

	var translator translate.Translator
	if cfg.Translate.Enabled {
		tc, err := translate.NewClient(cfg.Translate.URL, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to create translator: %w", err)
		}
		translator = tc
		slog.Info("Translation enabled", "url", cfg.Translate.URL)
	}

	// Tool providers connect lazily; listing failures surface to the
	// supervisor with the provider's label attached.
	providers := make([]*mcptoolset.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := mcptoolset.New(mcptoolset.Config{
			Name:    pc.Name,
			Label:   pc.Label,
			URL:     pc.URL,
			Command: pc.Command,
			Args:    pc.Args,
			Env:     pc.Env,
			Headers: pc.Headers,
		})
		if err != nil {
			return fmt.Errorf("failed to create provider %s: %w", pc.Name, err)
		}
		providers = append(providers, p)
		slog.Info("Registered tool provider", "name", pc.Name, "label", pc.Label, "type", pc.Type)
	}
	defer func() {
		for _, p := range providers {
			if err := p.Close(); err != nil {
				slog.Warn("Failed to close provider", "name", p.Name(), "error", err)
			}
		}
	}()

	builder, err := c.runtimeBuilder(providers)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, server.Dependencies{
		Builder:    builder,
		Registry:   registry,
		Memory:     mem,
		Translator: translator,
		Logger:     slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	fmt.Printf("relay ready on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Chat:      POST /v1/chat/{thread}/stream\n")
	fmt.Printf("   Questions: POST /v1/questions/{group}\n")
	fmt.Printf("   Health:    GET  /healthz\n")
	fmt.Printf("   Metrics:   GET  /metrics\n")
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.ListenAndServe(ctx)
}

// ValidateCmd validates a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, loader, err := config.LoadFile(context.Background(), cli.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	fmt.Printf("Configuration valid: %s\n", cli.Config)
	fmt.Printf("   Server:    %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Memory:    %s\n", cfg.Memory.Strategy)
	fmt.Printf("   Providers: %d\n", len(cfg.Providers))
	for _, p := range cfg.Providers {
		fmt.Printf("     - %s (%s, %s)\n", p.Name, p.Label, p.Type)
	}
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("relay"),
		kong.Description("Event relay between an agent runtime and SSE clients"),
		kong.UsageOnError(),
	)

	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}

	output := os.Stderr
	if cli.LogFile != "" {
		file, cleanup, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()
		output = file
	}
	logger.Init(level, output, cli.LogFormat)

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
