package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"tablesync/internal/api"
	"tablesync/internal/config"
	"tablesync/internal/files"
	"tablesync/internal/logging"
	"tablesync/internal/pg"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	config.RegisterFlags(rootCmd.Flags())
}

var rootCmd = &cobra.Command{
	Use:           "tablesync-server",
	Short:         "Remote store for scanned tables: schema, rows and files over HTTP.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromFlags(cmd.Flags())
		if err != nil {
			return err
		}
		logging.Setup(cfg.LogLevel, cfg.LogFormat)
		if err := run(cmd.Context(), cfg); err != nil {
			log.WithError(err).Error("server stopped")
			return err
		}
		return nil
	},
}

func run(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// 1. схемы из DSL + справочники
	tables, issues, err := api.LoadSchema(cfg.DSLDir, cfg.CatalogsDir, time.Now())
	for _, is := range issues {
		log.WithFields(log.Fields{"table": is.Table, "column": is.Column, "code": is.Code}).Error(is.Message)
	}
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	log.WithField("tables", len(tables)).Info("schema loaded")

	// 2. файлы
	if cfg.BlobDriver != "local" {
		return fmt.Errorf("unsupported blob driver %q", cfg.BlobDriver)
	}
	uploader := &files.Uploader{Store: &files.LocalBlobStore{Root: cfg.FilesRoot}, BaseURL: cfg.FilesURL}
	storage := api.NewStorage(tables, uploader)

	// 3. Postgres, если задан
	if cfg.DBURL != "" {
		db, err := pg.Open(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		if cfg.AutoMigrate {
			ddl, err := pg.GenerateDDL(tables)
			if err != nil {
				return err
			}
			if err := pg.ApplyDDL(ctx, db, ddl); err != nil {
				return err
			}
		}
		storage.Sink = pg.NewWriter(db)
		log.Info("rows are mirrored to Postgres")
	}

	addr := ":" + cfg.Port
	log.WithField("addr", addr).Info("starting server")
	return api.RunServer(addr, storage, api.Roots{DSL: cfg.DSLDir, Catalogs: cfg.CatalogsDir})
}
