package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"tabgrid/internal/api"
	"tabgrid/internal/blob"
	"tabgrid/internal/config"
	"tabgrid/internal/dsl"
	"tabgrid/internal/engine"
	"tabgrid/internal/hooks"
	"tabgrid/internal/i18n"
	"tabgrid/internal/render"
	"tabgrid/internal/sqldb"
	"tabgrid/internal/store"
)

const defaultConfigPath = "tabgrid.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, logW io.Writer) error {
	cfg, err := config.Load(defaultConfigPath, args)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := newLogger(cfg.LogLevel, cfg.LogFormat, logW)

	// 1. Подключения
	stores, dbs, err := openStores(ctx, cfg.Connections, log)
	defer func() {
		for name, db := range dbs {
			if err := db.Close(); err != nil {
				log.Warn("close connection", "connection", name, "err", err)
			}
		}
	}()
	if err != nil {
		return err
	}

	// 2. Хуки и декларации
	cat := hooks.NewCatalog()
	registerHooks(cat, cfg.UploadsURL, log)
	reg := engine.LoadRegistry(cfg.EntitiesDir, cat, log)
	log.Info("entities loaded", "dir", cfg.EntitiesDir, "count", len(reg.Entities()), "errors", len(reg.Errors))

	if cfg.AutoMigrate {
		if err := migrate(ctx, reg.Entities(), stores, dbs, log); err != nil {
			return err
		}
	}

	// 3. Переводы, загрузки, движок, вид
	tr, err := i18n.Load(cfg.I18nDir, cfg.DefaultLocale)
	if err != nil {
		return fmt.Errorf("i18n: %w", err)
	}
	blobs := &blob.LocalBlobStore{Root: cfg.UploadsDir}
	eng := engine.New(reg, engine.Options{
		Stores:   stores,
		Uploader: blob.NewUploader(blobs, cfg.AllowedImageExts, log),
		Logger:   log,
	})
	view, err := render.New(eng, render.Options{UploadsURL: cfg.UploadsURL})
	if err != nil {
		return fmt.Errorf("templates: %w", err)
	}

	// 4. HTTP
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	opts := api.Options{
		EntitiesDir: cfg.EntitiesDir,
		Hooks:       cat,
		Blobs:       blobs,
		UploadsURL:  cfg.UploadsURL,
		GuestLevel:  cfg.GuestLevel,
		MaxUploadMB: cfg.MaxUploadMB,
		Logger:      log,
	}
	if cfg.AutoMigrate {
		opts.Migrate = func(ctx context.Context, entities []*dsl.Entity) error {
			return migrate(ctx, entities, stores, dbs, log)
		}
	}
	srv := api.NewServer(eng, view, tr, opts).NewHTTPServer(":" + cfg.Port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", srv.Addr, "locales", tr.Locales())
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStores открывает все подключения конфига; memory не требует БД.
func openStores(ctx context.Context, conns map[string]config.Connection, log *slog.Logger) (map[string]store.Store, map[string]*sql.DB, error) {
	stores := make(map[string]store.Store, len(conns))
	dbs := make(map[string]*sql.DB, len(conns))
	for name, c := range conns {
		if c.Driver == config.DriverMemory {
			stores[name] = store.NewMemory()
			log.Info("connection ready", "connection", name, "driver", c.Driver)
			continue
		}
		d, err := sqldb.Dialect(c.Driver)
		if err != nil {
			return stores, dbs, fmt.Errorf("connection %s: %w", name, err)
		}
		db, err := sqldb.Open(ctx, c.Driver, c.DSN)
		if err != nil {
			return stores, dbs, fmt.Errorf("connection %s: %w", name, err)
		}
		dbs[name] = db
		stores[name] = store.NewSQL(db, d)
		log.Info("connection ready", "connection", name, "driver", c.Driver)
	}
	return stores, dbs, nil
}

// migrate создаёт недостающие таблицы в каждом SQL-подключении.
func migrate(ctx context.Context, entities []*dsl.Entity, stores map[string]store.Store, dbs map[string]*sql.DB, log *slog.Logger) error {
	byConn := map[string][]*dsl.Entity{}
	for _, e := range entities {
		byConn[e.Connection] = append(byConn[e.Connection], e)
	}
	names := make([]string, 0, len(byConn))
	for name := range byConn {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := stores[name]; !ok {
			log.Warn("entities use an unknown connection", "connection", name, "entities", len(byConn[name]))
			continue
		}
		db, ok := dbs[name]
		if !ok {
			continue
		}
		ddl, err := sqldb.GenerateDDL(byConn[name], stores[name].Dialect())
		if err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if err := sqldb.ApplyDDL(ctx, db, ddl, log.With("connection", name)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}
