package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfbatcher/internal/batch"
	cfgpkg "github.com/local/pdfbatcher/internal/config"
	"github.com/local/pdfbatcher/internal/converter"
	"github.com/local/pdfbatcher/internal/document"
	"github.com/local/pdfbatcher/internal/imagerender"
	logpkg "github.com/local/pdfbatcher/internal/logger"
	"github.com/local/pdfbatcher/internal/orchestrator"
	"github.com/local/pdfbatcher/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()
	cfg := cfgpkg.FromEnv()

	// Init logging
	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})

	args := os.Args[1:]
	code := 0
	switch {
	case len(args) > 0 && args[0] == "serve":
		code = serve(cfg)
	case len(args) > 0 && args[0] == "batch":
		code = runBatch(cfg, args[1:], os.Stdout, os.Stderr)
	default:
		code = runBatch(cfg, args, os.Stdout, os.Stderr)
	}
	logpkg.Close()
	os.Exit(code)
}

// services are the collaborators shared by the CLI and the server.
type services struct {
	runner *orchestrator.Runner
	s3     *storage.S3Client
}

func buildServices(ctx context.Context, cfg cfgpkg.Config) (*services, error) {
	if err := os.MkdirAll(cfg.Batch.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	docs := document.NewService(cfg.Batch.WorkDir)
	svc := &services{}

	if cfg.Storage.Bucket != "" {
		s3c, err := storage.NewS3Client(ctx, storage.Options{
			Bucket:    cfg.Storage.Bucket,
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Password:  cfg.Storage.Password,
		})
		if err != nil {
			return nil, err
		}
		svc.s3 = s3c
		docs.S3 = s3c
	}

	if cfg.Batch.ConvertOffice {
		lo, err := converter.New(cfg.Batch.ConvertTimeout)
		if err != nil {
			log.Warn().Err(err).Msg("office conversion requested but LibreOffice is unavailable")
		} else {
			docs.Converter = lo
		}
	}

	debugDir := cfg.Batch.RasterDebugDir
	svc.runner = &orchestrator.Runner{
		Docs: docs,
		OpenRenderer: func(path string) (orchestrator.Renderer, error) {
			d, err := imagerender.Open(path)
			if err != nil {
				return nil, err
			}
			if debugDir != "" {
				d.WithDebugDir(debugDir)
			}
			return d, nil
		},
		Remover:       orchestrator.NewRemover(cfg.Batch.LockBackoff, cfg.Batch.LockRetryMax),
		DPI:           cfg.Batch.DPI,
		Tolerance:     batch.Tolerance(cfg.Batch.Tolerance),
		PublishPrefix: cfg.Storage.Prefix,
	}
	return svc, nil
}
