package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/embedstore"
	"github.com/andresmejia3/rollcall/internal/engine"
	"github.com/andresmejia3/rollcall/internal/enroll"
	"github.com/andresmejia3/rollcall/internal/gallery"
	"github.com/andresmejia3/rollcall/internal/localizer"
	"github.com/andresmejia3/rollcall/internal/recognition"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/verify"
	"github.com/andresmejia3/rollcall/internal/worker"
)

// services is the wired set of services a command needs.
type services struct {
	engine     engine.Engine
	embeddings *embedstore.Store
	pipeline   *recognition.Pipeline
	enroller   *enroll.Service
	closeFn    func()
}

func (r *services) Close() {
	if r.closeFn != nil {
		r.closeFn()
	}
}

// buildEngine starts the inference backend named by the configuration.
func buildEngine(cfg *config.Config) (engine.Engine, func(), error) {
	switch cfg.Engine.Backend {
	case "http":
		return engine.NewHTTPClient(cfg.Engine.URL, cfg.Engine.Timeout), func() {}, nil
	case "worker":
		pool, err := worker.NewPool(cfg.Engine.Workers, cfg.Engine.Python, cfg.Engine.Script, cfg.Engine.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}
}

// buildVerifier picks the pairwise verifier; "engine" reuses the inference backend.
func buildVerifier(ctx context.Context, cfg *config.Config, e engine.Engine) (engine.Verifier, error) {
	switch cfg.Verifier.Backend {
	case "rekognition":
		return engine.NewRekognitionVerifier(ctx, cfg.Verifier.Region, cfg.Verifier.Similarity)
	case "engine", "":
		return e, nil
	default:
		return nil, fmt.Errorf("unknown verifier backend %q", cfg.Verifier.Backend)
	}
}

// newServices wires every service against p using an already started engine.
func newServices(ctx context.Context, cfg *config.Config, p store.Persistence, e engine.Engine) (*services, error) {
	v, err := buildVerifier(ctx, cfg, e)
	if err != nil {
		return nil, fmt.Errorf("failed to build verifier: %w", err)
	}
	rc := cfg.Recognition

	embeddings := embedstore.New(p, e, rc.Dim, rc.Slots)
	pipeline := recognition.NewPipeline(
		gallery.NewLoader(p, embeddings),
		localizer.New(e, rc.Margin),
		e,
		verify.New(v, p, rc.VerifyOrder),
		recognition.Options{
			Dim:            rc.Dim,
			Threshold:      rc.Threshold,
			RequestTimeout: rc.RequestTimeout,
			EmbedWorkers:   rc.EmbedWorkers,
			ScratchDir:     rc.ScratchDir,
		},
	)
	enroller := enroll.New(p, e, e, enroll.Options{
		Dim:           rc.Dim,
		Slots:         rc.Slots,
		MinBrightness: rc.MinBrightness,
	})

	return &services{engine: e, embeddings: embeddings, pipeline: pipeline, enroller: enroller}, nil
}

// startServices starts the configured engine and wires the services around it.
func startServices(ctx context.Context) (*services, error) {
	e, closeEngine, err := buildEngine(Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start inference engine: %w", err)
	}
	rt, err := newServices(ctx, Cfg, DB, e)
	if err != nil {
		closeEngine()
		return nil, err
	}
	rt.closeFn = closeEngine
	return rt, nil
}
