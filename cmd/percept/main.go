// Command percept turns HTML — from a file, stdin, or a live Chrome tab
// — into a compact semantic snapshot an LLM can read and act on by
// reference, and serves that capability as an MCP tool surface.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/polzovatel/percept/internal/browser"
	"github.com/polzovatel/percept/internal/config"
	"github.com/polzovatel/percept/internal/dom"
	"github.com/polzovatel/percept/internal/mcpserver"
	"github.com/polzovatel/percept/internal/pipeline"
	"github.com/polzovatel/percept/internal/ref"
	"github.com/polzovatel/percept/internal/serializer"
	"github.com/polzovatel/percept/internal/session"
	"github.com/polzovatel/percept/internal/store"
)

const (
	exitOK           = 0
	exitUsage        = 2
	exitPipelineFail = 4
	exitDriverFail   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	root := &cobra.Command{
		Use:           "percept",
		Short:         "Browser perception layer for AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSnapshotCmd(cfg), newMCPCmd(cfg), newMCPHTTPCmd(cfg))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCodeFor(err)
	}
	return exitOK
}

// exitCodeFor maps the prefix each RunE wraps its error in ("usage:",
// "driver:", "pipeline:") to the process exit code a calling script can
// branch on without parsing the message.
func exitCodeFor(err error) int {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "usage:"):
		return exitUsage
	case strings.HasPrefix(msg, "driver:"):
		return exitDriverFail
	case strings.HasPrefix(msg, "pipeline:"):
		return exitPipelineFail
	default:
		return exitPipelineFail
	}
}

func newSnapshotCmd(cfg *config.Config) *cobra.Command {
	var format string
	var launch bool
	var port int
	cmd := &cobra.Command{
		Use:   "snapshot <source>",
		Short: "Snapshot a page from a file, stdin (-), or a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := config.NewLogger(cfg, "snapshot", true)
			source := args[0]

			html, driverErr := fetchHTML(cmd.Context(), cfg, source, launch, port)
			if driverErr != nil {
				if strings.HasPrefix(driverErr.Error(), "usage:") {
					return driverErr
				}
				log.Error().Err(driverErr).Msg("failed to fetch source")
				return fmt.Errorf("driver: %w", driverErr)
			}

			docRoot, err := dom.ParseString(html)
			if err != nil {
				log.Error().Err(err).Msg("failed to parse HTML")
				return fmt.Errorf("pipeline: %w", err)
			}
			sem := pipeline.Run(docRoot, nil)
			ref.Allocate(sem, nil)
			page := serializer.Page{URL: source, Root: sem}

			switch format {
			case "", "text":
				fmt.Println(serializer.Text(page))
			case "json":
				data, err := serializer.JSON(page)
				if err != nil {
					return fmt.Errorf("pipeline: %w", err)
				}
				fmt.Println(string(data))
			default:
				return fmt.Errorf("usage: unknown format %q, want text or json", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or json")
	cmd.Flags().BoolVar(&launch, "launch", false, "launch a fresh headless Chromium for a URL source")
	cmd.Flags().IntVar(&port, "port", 0, "attach to Chrome already listening on this CDP port, for a URL source")
	return cmd
}

// fetchHTML resolves a snapshot source: "-" reads stdin, a string
// parseable as an http(s) URL requires a driver (--launch or --port),
// anything else is treated as a file path.
func fetchHTML(ctx context.Context, cfg *config.Config, source string, launch bool, port int) (string, error) {
	if source == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		if !launch && port == 0 {
			return "", fmt.Errorf("usage: a URL source requires --launch or --port")
		}
		return fetchLiveHTML(ctx, cfg, source, port)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("read file %q: %w", source, err)
	}
	return string(data), nil
}

func fetchLiveHTML(ctx context.Context, cfg *config.Config, targetURL string, port int) (string, error) {
	launcher, err := newLauncher(ctx, port)
	if err != nil {
		return "", err
	}
	defer launcher.Close()

	driver, err := launcher.NewTab(ctx, "")
	if err != nil {
		return "", err
	}
	defer driver.Close(ctx)

	if err := driver.Navigate(ctx, targetURL); err != nil {
		return "", err
	}
	return driver.HTML(ctx)
}

// newLauncher starts a fresh headless Chromium, or — when port is
// set — attaches to one already listening on it over CDP, for an agent
// that wants to drive a browser window it (or a human) already opened.
func newLauncher(ctx context.Context, port int) (*browser.Launcher, error) {
	if port != 0 {
		return browser.NewLauncherFromCDP(ctx, port)
	}
	return browser.NewLauncher(ctx)
}

func newMCPCmd(cfg *config.Config) *cobra.Command {
	var launch bool
	var port int
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool surface over stdio (MCP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := config.NewLogger(cfg, "mcp", false)
			if !launch && port == 0 {
				return fmt.Errorf("usage: one of --launch or --port is required")
			}
			manager, cleanup, err := newManager(cmd.Context(), cfg, log, port)
			if err != nil {
				return fmt.Errorf("driver: %w", err)
			}
			defer cleanup()

			srv := mcpserver.New(manager, log)
			return srv.ServeStdio(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&launch, "launch", true, "launch a fresh headless Chromium")
	cmd.Flags().IntVar(&port, "port", 0, "attach to Chrome already listening on this CDP port instead of launching one")
	return cmd
}

func newMCPHTTPCmd(cfg *config.Config) *cobra.Command {
	var host string
	var httpPort int
	var launch bool
	var port int
	cmd := &cobra.Command{
		Use:   "mcp-http",
		Short: "Serve the tool surface over streamable HTTP (MCP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := config.NewLogger(cfg, "mcp-http", false)
			if !launch && port == 0 {
				return fmt.Errorf("usage: one of --launch or --port is required")
			}
			manager, cleanup, err := newManager(cmd.Context(), cfg, log, port)
			if err != nil {
				return fmt.Errorf("driver: %w", err)
			}
			defer cleanup()

			srv := mcpserver.New(manager, log)
			addr := fmt.Sprintf("%s:%d", host, httpPort)
			log.Info().Str("addr", addr).Msg("listening")
			return http.ListenAndServe(addr, srv.HTTPHandler())
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVar(&httpPort, "http-port", 8787, "listen port")
	cmd.Flags().BoolVar(&launch, "launch", true, "launch a fresh headless Chromium")
	cmd.Flags().IntVar(&port, "port", 0, "attach to Chrome already listening on this CDP port instead of launching one")
	return cmd
}

// newManager wires a session.Manager around a browser instance — freshly
// launched, or attached over CDP to one already listening on port — along
// with the on-disk auth/recording stores. The returned cleanup func stops
// the browser process (a no-op on Close for an attached one).
func newManager(ctx context.Context, cfg *config.Config, log zerolog.Logger, port int) (*session.Manager, func(), error) {
	launcher, err := newLauncher(ctx, port)
	if err != nil {
		return nil, nil, err
	}
	authStore, err := store.NewAuthStore(cfg.DataDir + "/auth")
	if err != nil {
		launcher.Close()
		return nil, nil, err
	}
	recordings, err := store.NewRecordingStore(cfg.DataDir + "/recordings")
	if err != nil {
		launcher.Close()
		return nil, nil, err
	}
	manager := session.New(launcher, authStore, recordings, log)
	cleanup := func() {
		manager.Close(context.Background())
		_ = launcher.Close()
	}
	return manager, cleanup, nil
}
