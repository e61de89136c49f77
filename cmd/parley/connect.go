// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-chat/parley/internal/client"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/logging"
	"github.com/parley-chat/parley/internal/observability"
	"github.com/parley-chat/parley/internal/rest"
	"github.com/parley-chat/parley/internal/wire"
)

// connectOpts holds the credential flags for the connect command. Everything
// else lives in config.Config.
type connectOpts struct {
	user     string
	password string
}

// NewConnectCmd creates the connect subcommand.
func NewConnectCmd() *cobra.Command {
	opts := &connectOpts{}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Log in and start an interactive messaging session",
		Long: `Log in against the REST auth endpoint, open the broker session,
and read commands from stdin. Lines starting with '/' are commands
(/contacts, /online, /open <user>, /ping <user>, /refresh, /quit);
anything else is sent to the open conversation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConnect(cmd.Context(), cmd, opts)
		},
	}

	defaults := config.Default()
	cmd.Flags().StringVar(&opts.user, "user", "", "username to log in as (required)")
	cmd.Flags().StringVar(&opts.password, "password", "", "password (defaults to $PARLEY_PASSWORD)")
	cmd.Flags().String("broker-url", defaults.BrokerURL, "WebSocket URL of the STOMP broker")
	cmd.Flags().String("api-base-url", defaults.APIBaseURL, "base URL of the REST API")
	cmd.Flags().String("log-format", defaults.LogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().String("metrics-addr", defaults.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().Duration("notice-dwell", defaults.NoticeDwell, "how long transient notices stay visible")
	cmd.Flags().Duration("retry-interval", defaults.RetryInterval, "interval between outbound delivery retries")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

// runConnect wires the REST client, the engine, and the observability server
// together and drives the interactive loop until quit or signal.
func runConnect(ctx context.Context, cmd *cobra.Command, opts *connectOpts) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("parley", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

	password := opts.password
	if password == "" {
		password = os.Getenv("PARLEY_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("password is required (--password or $PARLEY_PASSWORD)")
	}

	restClient, err := rest.NewClient(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	username, err := restClient.Login(ctx, opts.user, password)
	if err != nil {
		return err
	}
	defer func() {
		if logoutErr := restClient.Logout(); logoutErr != nil {
			slog.Warn("logout failed", "error", logoutErr)
		}
	}()
	slog.Info("logged in", "user", username)

	out := cmd.OutOrStdout()
	eng := client.New(client.Options{
		BrokerURL:     cfg.BrokerURL,
		Directory:     restClient,
		NoticeDwell:   cfg.NoticeDwell,
		RetryInterval: cfg.RetryInterval,
		OnNotice: func(text string) {
			if text != "" {
				fmt.Fprintf(out, "* %s\n", text)
			}
		},
		OnAlert: func(text string) {
			fmt.Fprintf(out, "! %s\n", text)
		},
		OnMessage: func(msg wire.Message) {
			fmt.Fprintf(out, "<%s> %s\n", msg.Sender, msg.Content)
		},
		OnError: func(err error) {
			slog.Error("session error", "error", err)
		},
	})
	defer eng.Deactivate()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, eng.Connected)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
				slog.Warn("error stopping observability server", "error", stopErr)
			}
		}()
	}

	if err := eng.Activate(ctx, username); err != nil {
		return err
	}
	fmt.Fprintf(out, "connected as %s; type /help for commands\n", username)

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	lines := readLines(ctx, cmd.InOrStdin())

	for {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			return nil
		case <-ctx.Done():
			slog.Info("context cancelled, shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(eng, out, line); quit {
				return nil
			}
		}
	}
}

// engine is the slice of client.Client the interactive loop needs.
type engine interface {
	SelectPartner(ctx context.Context, partner string) error
	Partner() string
	Send(content string) error
	Ping(recipient string) error
	RefreshContacts(ctx context.Context) error
	Contacts() []rest.Contact
	Online() []string
	Connected() bool
}

// handleLine executes one line of user input. Returns true on /quit.
func handleLine(e engine, out io.Writer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if err := e.Send(line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd {
	case "/quit":
		return true

	case "/help":
		fmt.Fprintln(out, "/contacts  list contacts\n/online    list online contacts\n/open <user>  open a conversation\n/ping <user>  ping a contact\n/refresh   refetch contacts and presence\n/quit      exit")

	case "/contacts":
		for _, contact := range e.Contacts() {
			marker := " "
			for _, online := range e.Online() {
				if online == contact.Username {
					marker = "*"
				}
			}
			fmt.Fprintf(out, "%s %s\n", marker, contact.Username)
		}

	case "/online":
		for _, user := range e.Online() {
			fmt.Fprintln(out, user)
		}

	case "/open":
		if arg == "" {
			fmt.Fprintln(out, "usage: /open <user>")
			return false
		}
		if err := e.SelectPartner(ctx, arg); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		fmt.Fprintf(out, "conversation with %s\n", e.Partner())

	case "/ping":
		if arg == "" {
			fmt.Fprintln(out, "usage: /ping <user>")
			return false
		}
		if err := e.Ping(arg); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}

	case "/refresh":
		if err := e.RefreshContacts(ctx); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}

	default:
		fmt.Fprintf(out, "unknown command %s (try /help)\n", cmd)
	}
	return false
}

// readLines feeds stdin lines into a channel so the main loop can also watch
// signals and the context.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
