package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jusunglee/jishobot/internal/db/dbopen"
	"github.com/jusunglee/jishobot/internal/jmdict"
	"github.com/jusunglee/jishobot/internal/logger"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

func main() {
	if err := mainE(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func mainE() error {
	_ = godotenv.Load()

	fs := ff.NewFlagSet("jishobot-dictimport")
	var (
		databaseURL = fs.StringLong("database-url", "./jishobot.db", "SQLite path or PostgreSQL connection URL")
		file        = fs.StringLong("file", "", "JMdict XML file (.gz accepted)")
		batchSize   = fs.Int64Long("batch-size", jmdict.DefaultBatchSize, "Entries per transaction")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVars()); err != nil {
		fmt.Printf("%s\n", ffhelp.Flags(fs))
		return fmt.Errorf("parsing flags: %w", err)
	}

	if *file == "" {
		return errors.New("file is required")
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	log := logger.New()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, stopping import", "signal", sig)
		cancel(errors.New("signal received"))
	}()

	repo, err := dbopen.Open(ctx, *databaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	rc, err := jmdict.Open(*file)
	if err != nil {
		return err
	}
	defer rc.Close()

	start := time.Now()
	log.InfoContext(ctx, "importing JMdict", "file", *file, "batch_size", *batchSize)
	n, err := jmdict.NewImporter(repo, log, int(*batchSize)).Import(ctx, jmdict.NewReader(rc))
	if err != nil {
		return fmt.Errorf("importing after %d entries: %w", n, err)
	}

	total, err := repo.CountEntries(ctx)
	if err != nil {
		return fmt.Errorf("counting entries: %w", err)
	}
	log.InfoContext(ctx, "import complete", "imported", n, "total", total, "duration", time.Since(start).Round(time.Millisecond))
	return nil
}
