// Command bananamall runs the product-copy wizard against a local workspace.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"banana-mall/internal/app"
	"banana-mall/internal/catalog"
	"banana-mall/internal/config"
	"banana-mall/internal/export"
	"banana-mall/internal/generative"
	"banana-mall/internal/httpclient"
	"banana-mall/internal/session"
	"banana-mall/internal/store"
)

const usage = `usage: bananamall <command> [flags]

commands:
  generate -image <file> [flags]   analyze a product photo and generate copy and images
  history list                     list saved generations
  history load <id>                make a saved generation current
  history delete <id>              delete a saved generation
  settings show                    print the stored settings
  settings set <key> <value>       change a setting
  edit [-title t] [-desc d] [-spec "n text"]
                                   edit the current copy
  redraw <imageId> <prompt>        redraw one image of the current result
  export [-dir d] [-html] [-s3]    export the current result
`

type env struct {
	cfg    config.Config
	logger *slog.Logger
	ws     *app.App
}

func main() {
	_ = godotenv.Load()

	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		exitWithUsage("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		fatalf("load config: %v", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, closeFn, err := open(ctx, cfg, logger)
	if err != nil {
		fatalf("%v", err)
	}
	defer closeFn()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "generate":
		err = e.generate(ctx, args)
	case "history":
		err = e.history(ctx, args)
	case "settings":
		err = e.settings(ctx, args)
	case "edit":
		err = e.edit(ctx, args)
	case "redraw":
		err = e.redraw(ctx, args)
	case "export":
		err = e.export(ctx, args)
	default:
		exitWithUsage("unknown command " + cmd)
	}

	var ue usageError
	switch {
	case errors.As(err, &ue):
		exitWithUsage(ue.Error())
	case err != nil:
		fatalf("%v", err)
	}
}

func open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*env, func(), error) {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
	})

	cat := catalog.Default()
	if cfg.PromptsFile != "" {
		loaded, err := catalog.Load(cfg.PromptsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("load prompt catalog: %w", err)
		}
		cat = loaded
	}

	closeFn := func() {}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = store.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { _ = rdb.Close() }
	}

	ws, err := session.OpenWorkspace(ctx, session.WorkspaceOptions{
		Redis:      rdb,
		SeedAPIKey: cfg.GeminiAPIKey,
		Deps: generative.Deps{
			HTTPClient: httpClient,
			Logger:     logger,
			Catalog:    cat,
			APIVersion: cfg.GeminiAPIVersion,
			Timeout:    cfg.RequestTimeout,
			MockDelay:  cfg.MockDelay,
		},
		Catalog:  cat,
		Exporter: export.New(export.ExporterOptions{HTTPClient: httpClient, Logger: logger}),
		Logger:   logger,
	}, cfg.DataDir, "local")
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return &env{cfg: cfg, logger: logger, ws: ws}, closeFn, nil
}

// Logs go to stderr so command output on stdout stays clean.
func newLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelWarn
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

type usageError string

func (u usageError) Error() string { return string(u) }

func exitWithUsage(msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	flag.Usage()
	os.Exit(2)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
