// Copyright 2026 The Loopkit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/loop-social/loopkit/gateway"
	"github.com/loop-social/loopkit/identity"
	"github.com/loop-social/loopkit/lib/config"
	"github.com/loop-social/loopkit/lib/secret"
	"github.com/loop-social/loopkit/lib/version"
	"github.com/loop-social/loopkit/session"
	"github.com/loop-social/loopkit/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "login":
		return runLogin(os.Args[2:])
	case "watch":
		return runWatch(os.Args[2:])
	case "logout":
		return runLogout(os.Args[2:])
	case "version":
		fmt.Printf("loopctl %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: loopctl <subcommand> [flags]

Subcommands:
  login       Sign in and persist the session
  watch       Tail real-time gateway events
  logout      Sign out and destroy the persisted session
  version     Print version information

Run 'loopctl <subcommand> --help' for subcommand flags.
`)
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(flags *pflag.FlagSet, configPath *string, verbose *bool) {
	flags.StringVar(configPath, "config", os.Getenv("LOOPKIT_CONFIG"),
		"path to loopkit YAML config (default $LOOPKIT_CONFIG)")
	flags.BoolVar(verbose, "verbose", false, "enable debug logging")
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file when a path is set. An empty path
// means all defaults: production endpoints, no session persistence.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// openStore builds the session store from the config: session file
// path and, when a passphrase file is configured, the derived cipher.
func openStore(conf *config.Config, logger *slog.Logger) (*session.Store, error) {
	var cipher *session.Cipher
	if conf.Session.PassphraseFile != "" {
		passphrase, err := secret.ReadFromPath(conf.Session.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("reading store passphrase: %w", err)
		}
		defer passphrase.Close()

		mode := session.KeyDerivation(conf.Session.KeyDerivation)
		if mode == "" {
			mode = session.KeyDerivationLegacy
		}
		key, err := session.DeriveKey(passphrase, mode)
		if err != nil {
			return nil, fmt.Errorf("deriving store key: %w", err)
		}
		cipher = session.NewCipher(key)
	}

	return session.NewStore(session.StoreConfig{
		Path:   conf.Session.Path,
		Cipher: cipher,
		Logger: logger,
	}), nil
}

// newTransport builds the API client from the config.
func newTransport(conf *config.Config, store *session.Store, logger *slog.Logger) (*transport.Client, error) {
	return transport.NewClient(transport.ClientConfig{
		Endpoints: transport.Endpoints{
			API:       conf.Endpoints.API,
			Settings:  conf.Endpoints.Settings,
			Analytics: conf.Endpoints.Analytics,
		},
		Logger: logger,
		Store:  store,
		Policy: transport.RetryPolicy{
			MaxRetries:      conf.Retry.MaxRetries,
			BackoffFactor:   conf.Retry.BackoffFactor,
			WaitOnRateLimit: conf.Retry.WaitOnRateLimit,
			Timeout:         time.Duration(conf.Retry.TimeoutSeconds) * time.Second,
		},
		Signer: identity.Signer{Locale: conf.Locale},
	})
}

// readPassword reads the login password from a file ("-" for stdin)
// or interactively from the terminal.
func readPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" {
		return secret.ReadFromPath(passwordFile)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("stdin is not a terminal; use --password-file (or \"-\" to pipe)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return secret.NewFromBytes(raw)
}

func runLogin(args []string) error {
	flags := pflag.NewFlagSet("login", pflag.ExitOnError)
	var (
		configPath   string
		verbose      bool
		email        string
		passwordFile string
	)
	commonFlags(flags, &configPath, &verbose)
	flags.StringVar(&email, "email", "", "account email (required)")
	flags.StringVar(&passwordFile, "password-file", "", "read password from file instead of prompting (\"-\" for stdin)")
	flags.Parse(args)

	if email == "" {
		flags.Usage()
		return fmt.Errorf("--email is required")
	}

	logger := newLogger(verbose)
	conf, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(conf, logger)
	if err != nil {
		return err
	}
	client, err := newTransport(conf, store, logger)
	if err != nil {
		return err
	}

	password, err := readPassword(passwordFile)
	if err != nil {
		return err
	}
	defer password.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	record, err := client.Login(ctx, email, password)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Signed in as %s (user %d)\n", record.Email, record.UserID)
	if conf.Session.Path != "" {
		fmt.Fprintf(os.Stderr, "  Session: %s\n", conf.Session.Path)
	} else {
		fmt.Fprintf(os.Stderr, "  Session not persisted (no session.path configured)\n")
	}
	return nil
}

func runWatch(args []string) error {
	flags := pflag.NewFlagSet("watch", pflag.ExitOnError)
	var (
		configPath string
		verbose    bool
		email      string
		channels   []string
	)
	commonFlags(flags, &configPath, &verbose)
	flags.StringVar(&email, "email", "", "account email the session is bound to (required)")
	flags.StringArrayVar(&channels, "channel", nil, "channel identifier to subscribe to (repeatable)")
	flags.Parse(args)

	if email == "" {
		flags.Usage()
		return fmt.Errorf("--email is required")
	}

	logger := newLogger(verbose)
	conf, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(conf, logger)
	if err != nil {
		return err
	}
	if _, err := store.Load(email); err != nil {
		return fmt.Errorf("loading session (run 'loopctl login' first): %w", err)
	}
	client, err := newTransport(conf, store, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streamToken, err := client.StreamToken(ctx)
	if err != nil {
		return fmt.Errorf("minting stream token: %w", err)
	}

	events := gateway.NewClient(gateway.ClientConfig{
		Endpoint: conf.Endpoints.Gateway,
		Logger:   logger,
	})
	encoder := json.NewEncoder(os.Stdout)
	events.On("*", func(event string, payload json.RawMessage) {
		encoder.Encode(payload)
	})

	if err := events.Connect(ctx, streamToken); err != nil {
		return err
	}
	defer events.Close()

	for _, channel := range channels {
		if err := events.Subscribe(channel); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Subscribed to %s\n", channel)
	}

	// Tail until interrupted or the connection drops. Reconnection is
	// deliberate and caller-driven — rerun the command.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if events.State() == gateway.Disconnected {
				return fmt.Errorf("gateway connection lost")
			}
		}
	}
}

func runLogout(args []string) error {
	flags := pflag.NewFlagSet("logout", pflag.ExitOnError)
	var (
		configPath string
		verbose    bool
		email      string
	)
	commonFlags(flags, &configPath, &verbose)
	flags.StringVar(&email, "email", "", "account email the session is bound to (required)")
	flags.Parse(args)

	if email == "" {
		flags.Usage()
		return fmt.Errorf("--email is required")
	}

	logger := newLogger(verbose)
	conf, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(conf, logger)
	if err != nil {
		return err
	}
	if _, err := store.Load(email); err != nil {
		if errors.Is(err, session.ErrStoreNotFound) {
			fmt.Fprintln(os.Stderr, "No persisted session found; nothing to do")
			return nil
		}
		return fmt.Errorf("loading session: %w", err)
	}
	client, err := newTransport(conf, store, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "Signed out; session destroyed")
	return nil
}
