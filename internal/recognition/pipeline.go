// Package recognition runs the group photo pipeline: gallery load, localization,
// embedding, similarity matching, verification fallback and assembly.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/rollcall/internal/engine"
	"github.com/andresmejia3/rollcall/internal/errortypes"
	"github.com/andresmejia3/rollcall/internal/gallery"
	"github.com/andresmejia3/rollcall/internal/localizer"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/matcher"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/verify"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Dim            int
	Threshold      float64
	RequestTimeout time.Duration
	EmbedWorkers   int
	ScratchDir     string
}

type Pipeline struct {
	loader    *gallery.Loader
	localizer *localizer.Adapter
	embedder  engine.Embedder
	fallback  *verify.Fallback // nil disables the verification pass
	opts      Options
}

func NewPipeline(l *gallery.Loader, loc *localizer.Adapter, e engine.Embedder, fb *verify.Fallback, opts Options) *Pipeline {
	if opts.EmbedWorkers < 1 {
		opts.EmbedWorkers = 1
	}
	return &Pipeline{loader: l, localizer: loc, embedder: e, fallback: fb, opts: opts}
}

// classify converts a pipeline failure into the error reported to the caller.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return errortypes.Timeout(err)
	}
	var appErr *errortypes.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return errortypes.Unexpected(err)
}

// Recognize identifies the enrolled people in a group image.
// Temporary files are removed on every return path, including panics.
func (p *Pipeline) Recognize(ctx context.Context, image []byte) (resp *types.RecognitionResponse, err error) {
	if len(image) == 0 {
		return nil, errortypes.Input("No image provided")
	}
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("recognition panicked", logger.LoggerOptions{Key: "panic", Data: fmt.Sprint(r)})
			resp, err = nil, errortypes.Unexpected(fmt.Errorf("panic: %v", r))
		}
	}()

	ws, err := localizer.NewWorkspace(p.opts.ScratchDir)
	if err != nil {
		return nil, errortypes.Unexpected(err)
	}
	defer func() {
		if relErr := ws.Release(); relErr != nil {
			logger.Warning("failed to remove workspace",
				logger.LoggerOptions{Key: "dir", Data: ws.Dir},
				logger.LoggerOptions{Key: "error", Data: relErr.Error()})
		}
	}()

	if p.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RequestTimeout)
		defer cancel()
	}

	g, report, err := p.loader.Load(ctx)
	if err != nil {
		return nil, classify(ctx, err)
	}

	faces, err := p.localizer.Localize(ctx, image, ws)
	if err != nil {
		return nil, classify(ctx, err)
	}

	if err := p.embedFaces(ctx, faces); err != nil {
		return nil, classify(ctx, err)
	}
	for _, f := range faces {
		if f.Err != nil {
			report.FailedFaces = append(report.FailedFaces, types.FailedFace{Index: f.Index, Reason: f.Err.Error()})
		}
	}

	claims := matcher.NewClaimSet()
	matches := matcher.Match(faces, g, claims, p.opts.Threshold, p.opts.Dim)

	if len(matches) < len(faces) && p.fallback != nil {
		verified, verifyErrs := p.fallback.Run(ctx, g, faces, matcher.MatchedFaces(matches), claims)
		report.VerificationErrors = verifyErrs
		matches = append(matches, verified...)
	}

	// Partial results are discarded once the deadline has passed
	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, err)
	}

	resp = Assemble(matches, len(faces), started, report)
	logReport(resp, g.Len())
	return resp, nil
}

// embedFaces extracts embeddings for every cropped face on a bounded pool.
// Per-face failures are recorded on the face; only a panic or the request
// context ending returns an error.
func (p *Pipeline) embedFaces(ctx context.Context, faces []types.DetectedFace) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.opts.EmbedWorkers)

	for i := range faces {
		if faces[i].Err != nil || len(faces[i].Crop) == 0 {
			continue
		}
		face := &faces[i]
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("embedder panic: %v", r)
				}
			}()
			vec, embedErr := p.embedder.Embed(egCtx, face.Crop)
			if embedErr != nil {
				face.Err = embedErr
				return nil
			}
			if !types.Embedding(vec).Valid(p.opts.Dim) {
				face.Err = fmt.Errorf("embedding has %d dimensions, want %d", len(vec), p.opts.Dim)
				return nil
			}
			face.Embedding = vec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func logReport(resp *types.RecognitionResponse, gallerySize int) {
	logger.Info("recognition complete",
		logger.LoggerOptions{Key: "faces_detected", Data: resp.FacesDetected},
		logger.LoggerOptions{Key: "recognized", Data: len(resp.Recognized)},
		logger.LoggerOptions{Key: "gallery", Data: gallerySize},
		logger.LoggerOptions{Key: "skipped", Data: resp.Report.SkippedKeys()},
		logger.LoggerOptions{Key: "regenerated", Data: resp.Report.Regenerated},
		logger.LoggerOptions{Key: "failed_faces", Data: len(resp.Report.FailedFaces)},
		logger.LoggerOptions{Key: "verification_errors", Data: resp.Report.VerificationErrors},
		logger.LoggerOptions{Key: "duration", Data: resp.ProcessingTime.String()})
}
