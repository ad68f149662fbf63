// ABOUTME: Entry point for the dialog-relay server
// ABOUTME: Commands to serve the chat API, write a sample config, mint tokens, and check health

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/2389/dialog-relay/internal/auth"
	"github.com/2389/dialog-relay/internal/config"
	"github.com/2389/dialog-relay/internal/gateway"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
     _ _       _                               _
  __| (_) __ _| | ___   __ _       _ __ ___| | __ _ _   _
 / _' | |/ _' | |/ _ \ / _' |_____| '__/ _ \ |/ _' | | | |
| (_| | | (_| | | (_) | (_| |_____| | |  __/ | (_| | |_| |
 \__,_|_|\__,_|_|\___/ \__, |     |_|  \___|_|\__,_|\__, |
                       |___/                        |___/
`

var configFlag = cli.StringFlag{
	Name:   "config, c",
	Usage:  "path to the YAML config file",
	EnvVar: config.EnvConfigPath,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := newApp(ctx)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context) *cli.App {
	app := cli.NewApp()
	app.Name = "dialog-relay"
	app.Usage = "streaming chat relay with conversation history"
	app.Version = version
	app.Flags = []cli.Flag{configFlag}
	app.Action = func(c *cli.Context) error { return runServe(ctx, c) }
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "start the HTTP server",
			Flags:  []cli.Flag{configFlag},
			Action: func(c *cli.Context) error { return runServe(ctx, c) },
		},
		{
			Name:  "init",
			Usage: "write a commented sample config",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "output, o", Value: "config.yaml", Usage: "file to write"},
				cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
			},
			Action: runInit,
		},
		{
			Name:  "token",
			Usage: "mint a bearer token for a user (development only)",
			Flags: []cli.Flag{
				configFlag,
				cli.StringFlag{Name: "user, u", Usage: "user id placed in the sub claim"},
				cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour, Usage: "token lifetime"},
			},
			Action: runToken,
		},
		{
			Name:  "health",
			Usage: "check a running server",
			Flags: []cli.Flag{
				configFlag,
				cli.StringFlag{Name: "addr", Usage: "host:port to probe (default: server.http_addr)"},
			},
			Action: func(c *cli.Context) error { return runHealth(ctx, c) },
		},
	}
	return app
}

// loadConfig resolves the config path from the flag, the environment, or
// the default locations.
func loadConfig(c *cli.Context) (*config.Config, string, error) {
	path := c.String("config")
	if path == "" {
		path = c.GlobalString("config")
	}
	if path == "" {
		path = config.DefaultPath()
	}
	if path == "" {
		return nil, "", errors.New("no config file found; run `dialog-relay init` or pass --config")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, c *cli.Context) error {
	cfg, path, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, closer := setupLogger(cfg.Logging)
	defer closer.Close()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Provider:  %s (%s)\n", cfg.Provider.BaseURL, cfg.Provider.DefaultModel)
	if cfg.RateLimit.Enabled() {
		green.Print("    ▶ ")
		fmt.Printf("Limit:     %.2f req/s, burst %d\n", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	fmt.Println()

	logger.Info("starting dialog-relay",
		"config", path,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runInit(c *cli.Context) error {
	out := c.String("output")
	if _, err := os.Stat(out); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", out)
	}
	if err := os.WriteFile(out, []byte(config.Sample), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", out)
	fmt.Println()
	fmt.Println("  Set DIALOG_RELAY_JWT_SECRET and OPENAI_API_KEY, then:")
	fmt.Printf("    dialog-relay serve --config %s\n", out)
	return nil
}

func runToken(c *cli.Context) error {
	userID := c.String("user")
	if userID == "" {
		return errors.New("--user is required")
	}

	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(userID, c.Duration("ttl"))
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context, c *cli.Context) error {
	addr := c.String("addr")
	if addr == "" {
		cfg, _, err := loadConfig(c)
		if err != nil {
			return err
		}
		addr = cfg.Server.HTTPAddr
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}
