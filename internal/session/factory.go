package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/redis/go-redis/v9"

	"banana-mall/internal/app"
	"banana-mall/internal/catalog"
	"banana-mall/internal/export"
	"banana-mall/internal/generative"
	"banana-mall/internal/store"
)

type WorkspaceOptions struct {
	DataDir string
	// Redis, when set, replaces the directory mirror.
	Redis      *redis.Client
	SeedAPIKey string
	Deps       generative.Deps
	Catalog    *catalog.Catalog
	Exporter   *export.Exporter
	Logger     *slog.Logger
}

// OpenWorkspace opens the workspace stored in dir. namespace separates the
// Redis keys of workspaces sharing one server.
func OpenWorkspace(ctx context.Context, opts WorkspaceOptions, dir, namespace string) (*app.App, error) {
	storeOpts := store.Options{
		Dir:        dir,
		SeedAPIKey: opts.SeedAPIKey,
		Logger:     opts.Logger,
	}
	if opts.Redis != nil {
		storeOpts.Mirror = store.NewRedisKV(opts.Redis, namespace)
	}
	st, err := store.Open(ctx, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return app.New(app.Options{
		Store:    st,
		Deps:     opts.Deps,
		Exporter: opts.Exporter,
		Catalog:  opts.Catalog,
		Logger:   opts.Logger,
	})
}

// DirFactory opens each user's workspace under DataDir/users/<id>.
func DirFactory(opts WorkspaceOptions) Factory {
	return func(ctx context.Context, userID int64) (*app.App, error) {
		id := strconv.FormatInt(userID, 10)
		dir := filepath.Join(opts.DataDir, "users", id)
		return OpenWorkspace(ctx, opts, dir, "user:"+id)
	}
}
