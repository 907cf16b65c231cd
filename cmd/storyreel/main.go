package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"storyreel/pkg/config"
	"storyreel/pkg/db"
	"storyreel/pkg/db/maintenance"
	"storyreel/pkg/lock"
	"storyreel/pkg/logging"
	"storyreel/pkg/store"
	"storyreel/pkg/version"
)

var (
	configPath = flag.String("config", "configs/storyreel.yaml", "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

const usageText = `Usage: storyreel [-config path] <command> [args]

Commands:
  ingest <file> [-title T]   Load a .txt/.md/.html manuscript and chunk it
  extract-bible <novel>      Build the Story Bible
  convert-script <novel>     Convert the novel into a screenplay
  breakdown-scenes <novel>   Produce per-scene visual breakdowns
  run-all <novel>            Run all three stages in order
  status [novel]             List novels, or show one novel's progress
  list-scenes <novel>        Print the scenes of the latest screenplay
  export <novel>             Write stored artifacts to the output targets

<novel> is a novel id or its exact title.
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usageText)
		fmt.Fprintln(flag.CommandLine.Output(), "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, *configPath, flag.Args(), os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		flag.Usage()
		os.Exit(2)
	case errors.Is(err, lock.ErrLocked):
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(3)
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Interrupted; progress is kept in the checkpoint and will resume on the next run.")
		os.Exit(130)
	default:
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage error")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// app carries what every command needs.
type app struct {
	cfg   *config.Config
	store store.Store
	out   io.Writer
}

func run(ctx context.Context, cfgPath string, args []string, out io.Writer) error {
	cmd, ok := commands[args[0]]
	if !ok {
		return usageErr("unknown command %q", args[0])
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("storyreel started", "version", version.Version, "command", args[0])

	dbConn, st, err := initDB(cfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := maintenance.Run(ctx, st, cfg.Pipeline.LockTTL.D()); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	return cmd(ctx, &app{cfg: cfg, store: st, out: out}, args[1:])
}

func initDB(cfg *config.Config) (*db.DB, store.Store, error) {
	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}
