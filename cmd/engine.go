package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/faceauth/internal/config"
	"github.com/andresmejia3/faceauth/internal/detector"
	"github.com/andresmejia3/faceauth/internal/pipeline"
	"github.com/andresmejia3/faceauth/internal/worker"
)

// newDetector starts the configured face detector. The returned func
// releases it.
func newDetector(ctx context.Context, cfg config.DetectorConfig) (pipeline.Detector, func(), error) {
	switch cfg.Kind {
	case "http":
		c := detector.NewClient(cfg.URL, cfg.WorkerTimeout)
		if err := c.Health(ctx); err != nil {
			return nil, nil, fmt.Errorf("detector service at %s is not healthy: %w", cfg.URL, err)
		}
		return c, func() {}, nil
	case "worker", "":
		fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines...\n", cfg.WorkerCount)
		pool, err := worker.NewPool(ctx, cfg.Python, cfg.WorkerScript, cfg.WorkerCount, cfg.WorkerTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("worker startup failed: %w", err)
		}
		return pool, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown detector %q", cfg.Kind)
}

// newPipeline builds the pipeline over the shared store with a freshly
// started detector.
func newPipeline(ctx context.Context, options ...pipeline.Option) (*pipeline.Pipeline, func(), error) {
	det, release, err := newDetector(ctx, Cfg.Detector)
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.FromConfig(Cfg, det, DB, options...)
	if err != nil {
		release()
		return nil, nil, err
	}
	return p, release, nil
}
