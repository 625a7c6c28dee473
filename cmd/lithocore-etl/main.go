// Command lithocore-etl ingests submission batches dropped as JSON files
// into a watch directory, either once or on a cron schedule. Each file holds
// a JSON array of submissions; processed files are moved aside so re-runs
// stay idempotent.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"lithocore/internal/blob"
	"lithocore/internal/config"
	"lithocore/internal/core"
	"lithocore/internal/ingest"
	"lithocore/pkg/domain"
	"lithocore/plugins/luminescence"
)

func main() {
	once := flag.Bool("once", false, "run a single pass over the watch directory and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := domain.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	blobs, err := blob.Open(ctx)
	if err != nil {
		logger.Fatal("open blob store", zap.Error(err))
	}

	service := core.NewService(store,
		core.WithLogger(logger),
		core.WithBlobStore(blobs),
	)
	if _, err := service.InstallPlugin(luminescence.New()); err != nil {
		logger.Fatal("install luminescence plugin", zap.Error(err))
	}
	if cfg.SchemaFile != "" {
		if err := service.Registry().LoadYAMLFile(cfg.SchemaFile); err != nil {
			logger.Fatal("load schema definitions", zap.String("path", cfg.SchemaFile), zap.Error(err))
		}
	}

	runner := &etlRunner{service: service, dir: cfg.ETLWatchDir, agent: cfg.ETLAgent, logger: logger}

	if *once {
		if err := runner.run(ctx); err != nil {
			logger.Fatal("etl run", zap.Error(err))
		}
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ETLSchedule, func() {
		logger.Info("scheduled ingestion starting", zap.String("dir", runner.dir))
		if err := runner.run(ctx); err != nil {
			logger.Error("scheduled ingestion failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("invalid schedule", zap.String("schedule", cfg.ETLSchedule), zap.Error(err))
	}
	scheduler.Start()
	logger.Info("etl scheduler running", zap.String("schedule", cfg.ETLSchedule))

	<-ctx.Done()
	<-scheduler.Stop().Done()
}

type etlRunner struct {
	service *core.Service
	dir     string
	agent   string
	logger  *zap.Logger
}

// run processes every pending JSON batch file in lexical order.
func (r *etlRunner) run(ctx context.Context) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read watch dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processFile(ctx, name); err != nil {
			r.logger.Error("batch file failed", zap.String("file", name), zap.Error(err))
		}
	}
	return nil
}

func (r *etlRunner) processFile(ctx context.Context, name string) error {
	path := filepath.Join(r.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var subs []ingest.Submission
	if err := json.Unmarshal(data, &subs); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	for i := range subs {
		if subs[i].Provenance.Agent == "" {
			subs[i].Provenance.Agent = r.agent
		}
	}

	outcomes, err := r.service.IngestBatch(ctx, subs)
	if err != nil {
		return err
	}
	counts := make(map[ingest.Status]int)
	for _, outcome := range outcomes {
		counts[outcome.Status]++
	}
	r.logger.Info("batch file ingested",
		zap.String("file", name),
		zap.Int("submitted", len(subs)),
		zap.Int("created", counts[ingest.StatusCreated]),
		zap.Int("revised", counts[ingest.StatusRevised]),
		zap.Int("unchanged", counts[ingest.StatusUnchanged]),
		zap.Int("rejected", counts[ingest.StatusRejected]),
		zap.Int("failed", counts[ingest.StatusFailed]))

	processed := filepath.Join(r.dir, "processed")
	if err := os.MkdirAll(processed, 0o750); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(processed, name))
}
