package main

import (
	"context"
	"fmt"
	"path/filepath"

	"extractkit/internal/config"
	"extractkit/internal/engine"
	"extractkit/internal/logging"
	"extractkit/internal/metrics"
	"extractkit/internal/pipeline"
	"extractkit/internal/raster"
	"extractkit/internal/service"
	"extractkit/internal/store"
	"extractkit/internal/taskspec"
	"extractkit/internal/workspace"
)

// dbName is the output index file inside the data dir.
const dbName = "extractkit.db"

// app is the wired object graph shared by the commands.
type app struct {
	registry *engine.Registry
	client   *engine.Client
	raster   *raster.Rasterizer
	metrics  *metrics.Metrics
	store    store.Store
	svc      *service.Service
}

// newRegistry registers the remote inference engines and the in-process
// Tesseract engine (when built with -tags tesseract).
func newRegistry(c *config.Config, r *raster.Rasterizer) (*engine.Registry, *engine.Client, error) {
	client, err := engine.NewClient(c.Engines.InferenceURL, c.Engines.APIKey,
		engine.WithTimeout(c.Engines.Timeout),
		engine.WithLogger(logging.New("engine")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create inference client: %w", err)
	}
	reg := engine.NewRegistry()
	for _, id := range []string{taskspec.EngineLayoutYOLO, taskspec.EngineFormulaDetectionYOLO} {
		reg.Register(id, "remote", client.DetectorFactory(id))
	}
	for _, id := range []string{taskspec.EngineOCRPaddle, taskspec.EngineFormulaRecognitionNougat, taskspec.EngineTableStructure} {
		reg.Register(id, "remote", client.ProcessorFactory(id))
	}
	engine.RegisterTesseract(reg, r)
	return reg, client, nil
}

func newApp(c *config.Config) (*app, error) {
	r := raster.New(c.Engines.Pdftoppm)
	reg, client, err := newRegistry(c, r)
	if err != nil {
		return nil, err
	}
	if c.Engines.OCR != "" && !reg.Available(c.Engines.OCR) {
		return nil, fmt.Errorf("ocr engine %q is not available", c.Engines.OCR)
	}

	st, err := store.Open(filepath.Join(c.Workspace.DataDir, dbName))
	if err != nil {
		return nil, fmt.Errorf("open output index: %w", err)
	}

	m := metrics.New()
	ws := workspace.NewManager(c.Workspace.TempRoot,
		workspace.WithDataDir(c.Workspace.DataDir),
		workspace.WithObserver(m),
	)
	svc := service.New(ws, pipeline.New(reg),
		service.WithBuilder(taskspec.Builder{Models: c.Engines.Models, OCREngine: c.Engines.OCR}),
		service.WithRasterizer(r),
		service.WithStore(st),
		service.WithRecorder(m),
	)
	return &app{registry: reg, client: client, raster: r, metrics: m, store: st, svc: svc}, nil
}

// preflight logs missing external dependencies without failing; engines
// report their own errors per request.
func (a *app) preflight(ctx context.Context) {
	logger := logging.New("preflight")
	if err := a.raster.Check(); err != nil {
		logger.Warn("PDF rasterization unavailable", "error", err)
	}
	if err := a.client.Health(ctx); err != nil {
		logger.Warn("inference service unreachable", "error", err)
	}
}

func (a *app) Close() error {
	return a.store.Close()
}
