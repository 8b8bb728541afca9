package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hpungsan/dridash/internal/config"
	"github.com/hpungsan/dridash/internal/db"
	"github.com/hpungsan/dridash/internal/github"
	"github.com/hpungsan/dridash/internal/mcp"
	"github.com/hpungsan/dridash/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"queries": true, "refresh": true, "cards": true, "classify": true,
	"settings": true, "note": true, "notes-export": true, "notes-import": true,
	"serve": true, "runs": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	// Global flags precede the subcommand.
	if len(arg) > 1 && arg[0] == '-' {
		for _, a := range os.Args[2:] {
			if cliCommands[a] {
				return true
			}
		}
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
      _      _     _           _
   __| |_ __(_) __| | __ _ ___| |__
  / _' | '__| |/ _' |/ _' / __| '_ \
 | (_| | |  | | (_| | (_| \__ \ | | |
  \__,_|_|  |_|\__,_|\__,_|___/_| |_|

  DRI dashboard for GitHub issues and pull requests

  Usage: dridash [global options] <command> [options]
         dridash serve
         dridash --help

  MCP server mode requires piped input.`)
}

// openSession builds the production session: SQLite state under baseDir
// and the GitHub REST transport.
func openSession(baseDir string) func(cfg *config.Config) (*ops.Session, io.Closer, error) {
	return func(cfg *config.Config) (*ops.Session, io.Closer, error) {
		database, err := db.Init(baseDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		db.ConfigurePool(database, cfg)

		client := github.NewClient(cfg.APIBaseURL, github.WithTimeout(cfg.HTTPTimeout()))
		session, err := ops.NewSession(ops.Deps{DB: database, Config: cfg, Client: client})
		if err != nil {
			database.Close()
			return nil, nil, err
		}
		return session, database, nil
	}
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Handle --help/--version before any state is opened
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, config.DirName)

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := &cliEnv{cfg: cfg, open: openSession(baseDir)}

	if isCLIMode() {
		app := newCLIApp(env)
		if err := app.RunContext(ctx, os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'dridash --help' for usage.\n")
		os.Exit(1)
	}

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Printf("dridash: ignoring unknown disabled_tools: %v", unknown)
	}
	session, closer, err := env.open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := mcp.Run(session, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
