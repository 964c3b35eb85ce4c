// Package main provides the entry point for vpn-session.
// vpn-session runs an OpenVPN session controller as a D-Bus daemon and
// offers command-line, terminal dashboard and tray front ends for it.
//
// Features:
//   - One connection attempt at a time, with a launch permission gate
//   - Stage and traffic streams for a single subscriber each
//   - Secure credential storage using the system keyring
//   - A SQLite journal of connection attempts
//
// Usage:
//
//	vpn-session [global options] <command> [options]
//
// Environment:
//
//	The daemon requires OpenVPN 2.x to be installed on the system.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/yllada/vpn-session/cli"
	"github.com/yllada/vpn-session/common"
	"github.com/yllada/vpn-session/config"
	"github.com/yllada/vpn-session/dbusapi"
	"github.com/yllada/vpn-session/engine"
	"github.com/yllada/vpn-session/history"
	"github.com/yllada/vpn-session/keyring"
	"github.com/yllada/vpn-session/netstate"
	"github.com/yllada/vpn-session/permission"
	"github.com/yllada/vpn-session/session"
	"github.com/yllada/vpn-session/tray"
	"github.com/yllada/vpn-session/watch"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

var (
	showVersion = flag.Bool("version", false, "Show version and exit")
	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	showHelp    = flag.Bool("help", false, "Show help message")
	configPath  = flag.String("config", "", "Path to the configuration file")
)

func main() {
	flag.Usage = func() { cli.PrintHelp(os.Stderr) }
	flag.Parse()

	if *showHelp {
		cli.PrintHelp(os.Stdout)
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("%s v%s\n", common.AppName, appVersion)
		if buildTime != "unknown" {
			fmt.Printf("  Build:  %s\n", buildTime)
			fmt.Printf("  Commit: %s\n", commitSHA)
		}
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintHelp(os.Stderr)
		os.Exit(2)
	}
	command, args := args[0], args[1:]

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logLevel := common.ParseLevel(cfg.Log.Level)
	if *verbose {
		logLevel = common.LevelDebug
	}
	if err := common.InitLogger(common.LogConfig{
		Level:       logLevel,
		EnableFile:  cfg.Log.File,
		MaxFileSize: 5 * 1024 * 1024, // 5MB
		MaxBackups:  5,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}
	defer common.CloseLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	if err := run(ctx, cfg, command, args); err != nil {
		common.LogDebug("%s failed: %v", command, err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		common.CloseLogger()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, err := config.Load()
		if err != nil && cfg != nil {
			// Defaults could not be written; they still apply.
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			return cfg, nil
		}
		return cfg, err
	}
	cfg, err := config.LoadFrom(path)
	if err != nil && cfg != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return cfg, nil
	}
	return cfg, err
}

// run dispatches one subcommand.
func run(ctx context.Context, cfg *config.Config, command string, args []string) error {
	switch command {
	case "daemon":
		return runDaemon(ctx, cfg)
	case "history":
		return runHistory(cfg, args)
	case "connect", "disconnect", "stage", "refresh", "status", "kill-switch", "permit", "watch", "tray":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	client, err := dbusapi.Dial(cfg.Bus)
	if err != nil {
		return err
	}
	defer client.Close()
	c := cli.New(client, os.Stdout)

	switch command {
	case "connect":
		return runConnect(c, args)
	case "disconnect":
		return c.Disconnect()
	case "stage":
		return c.Stage()
	case "refresh":
		return c.Refresh()
	case "status":
		return c.Status()
	case "kill-switch":
		return c.KillSwitch()
	case "permit":
		fs := flag.NewFlagSet("permit", flag.ExitOnError)
		attempt := fs.Uint64("attempt", 0, "Attempt to answer (default: the pending one)")
		deny := fs.Bool("deny", false, "Deny instead of grant")
		fs.Parse(args)
		return c.Permit(*attempt, !*deny)
	case "watch":
		return watch.Run(ctx, client)
	case "tray":
		tray.New(client, cfg.ShowNotifications).Run(ctx)
		return nil
	}
	return nil
}

// runDaemon serves the session controller on D-Bus until ctx is done.
func runDaemon(ctx context.Context, cfg *config.Config) error {
	common.LogInfo("Starting %s daemon v%s", common.AppName, appVersion)

	if !checkEngineInstalled(cfg.Engine.Binary) {
		common.LogWarn("%s is not installed; connection attempts will fail validation", cfg.Engine.Binary)
	}

	conn, err := dbusapi.ConnectBus(cfg.Bus)
	if err != nil {
		return fmt.Errorf("failed to connect to the %s bus: %w", cfg.Bus, err)
	}
	defer conn.Close()

	prompter, err := permission.New(cfg.Permission.Mode, cfg.Permission.ActionID)
	if err != nil {
		return err
	}

	var journal session.Journal
	if cfg.History.Enabled {
		path, err := cfg.HistoryPath()
		if err != nil {
			return err
		}
		store, err := history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		journal = store
	}

	eng := engine.New(engine.Config{
		Binary:         cfg.Engine.Binary,
		UsePkexec:      cfg.Engine.UsePkexec,
		RuntimeDir:     cfg.Engine.RuntimeDir,
		StatusInterval: cfg.Engine.StatusInterval,
		Verbosity:      cfg.Engine.Verbosity,
	})

	var srv *dbusapi.Server
	ctrl := session.NewController(session.Options{
		Engine:   eng,
		Gate:     netstate.NewGate(),
		Builder:  session.NewProfileBuilder(nil, cfg.DNS.Primary, cfg.DNS.Secondary),
		Prompter: prompter,
		Host:     netstate.NewSettings(cfg.KillSwitchCommand),
		Journal:  journal,
		Creator:  cfg.Creator,
		OnPermissionRequest: func(attempt uint64) {
			srv.EmitPermissionRequested(attempt)
		},
	})
	srv = dbusapi.NewServer(conn, ctrl)
	if err := srv.Export(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.Log.File {
		g.Go(func() error { return common.GetLogger().WatchRotation(gctx, common.LogRotationInterval) })
	}
	err = g.Wait()

	common.LogInfo("Shutting down")
	ctrl.Stop()
	ctrl.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runConnect reads the engine configuration and credentials and starts a
// connection attempt.
func runConnect(c *cli.CLI, args []string) error {
	fs := flag.NewFlagSet("connect", flag.ExitOnError)
	file := fs.String("config", "", "OpenVPN configuration file")
	name := fs.String("name", "", "Connection name (defaults to the file name)")
	username := fs.String("username", "", "Username for auth-user-pass")
	password := fs.String("password", "", "Password (read from the keyring or prompted when omitted)")
	dns1 := fs.String("dns1", "", "Primary DNS server")
	dns2 := fs.String("dns2", "", "Secondary DNS server")
	bypass := fs.String("bypass", "", "Comma-separated addresses routed outside the tunnel")
	savePassword := fs.Bool("save-password", false, "Store the password in the keyring")
	noWait := fs.Bool("no-wait", false, "Return once the attempt has started")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("%w: -config is required", common.ErrInvalidConfig)
	}
	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", *file, err)
	}
	if *name == "" {
		*name = strings.TrimSuffix(filepath.Base(*file), ".ovpn")
	}

	pw, err := resolvePassword(*name, *username, *password, *savePassword)
	if err != nil {
		return err
	}

	return c.Connect(session.Params{
		Config:   string(data),
		Name:     *name,
		Username: *username,
		Password: pw,
		DNS1:     *dns1,
		DNS2:     *dns2,
		Bypass:   common.CleanList(strings.Split(*bypass, ",")),
	}, !*noWait)
}

// resolvePassword returns the password to use for name, consulting the
// keyring and then the terminal when none was given.
func resolvePassword(name, username, password string, save bool) (string, error) {
	if username == "" {
		return password, nil
	}

	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	store := keyring.New(dir)

	if password == "" {
		saved, err := store.Get(name)
		switch {
		case err == nil:
			return saved, nil
		case !errors.Is(err, keyring.ErrNotFound):
			common.LogWarn("Reading saved password: %v", err)
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return "", fmt.Errorf("%w for %s", common.ErrCredentialsNotFound, name)
		}
		fmt.Fprintf(os.Stderr, "Password for %s@%s: ", username, name)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	}

	if save {
		if err := store.Store(name, password); err != nil {
			return "", err
		}
		common.LogInfo("Password for %s saved in %s", name, store.Backend())
	}
	return password, nil
}

// runHistory prints the attempt journal.
func runHistory(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "Number of attempts to show")
	events := fs.Bool("v", false, "Show each attempt's stage transitions")
	fs.Parse(args)

	path, err := cfg.HistoryPath()
	if err != nil {
		return err
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	return cli.New(nil, os.Stdout).History(store, *limit, *events)
}

// setupSignalHandler configures graceful shutdown on SIGINT/SIGTERM.
// When a signal is received, it cancels the context to allow cleanup.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()
}

// checkEngineInstalled verifies that the engine binary is on PATH.
func checkEngineInstalled(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}
