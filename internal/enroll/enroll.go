// Package enroll validates enrollment photos and persists their images and embeddings per slot.
package enroll

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/rollcall/internal/engine"
	"github.com/andresmejia3/rollcall/internal/errortypes"
	"github.com/andresmejia3/rollcall/internal/localizer"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"
)

const (
	MsgMissingInfo   = "Missing student information"
	MsgNoImage       = "No image provided"
	MsgBadIndex      = "Invalid image index"
	MsgUnreadable    = "Failed to read image"
	MsgNoFace        = "No face detected"
	MsgMultipleFaces = "Multiple faces detected"
	MsgPoorLighting  = "Poor lighting conditions"
	MsgNoFeatures    = "Failed to extract valid facial features"
	MsgComplete      = "All images processed successfully and face information stored"
)

type Request struct {
	Name       string `validate:"required"`
	RollNo     string `validate:"required"`
	Class      string `validate:"required"`
	Slot       int    `validate:"gte=0"`
	Attributes map[string]string
	Image      []byte
}

type Result struct {
	Key      string
	Slot     int
	Complete bool
	Message  string
}

type Options struct {
	Dim           int
	Slots         int
	MinBrightness float64
}

type Service struct {
	persistence store.Persistence
	detector    engine.Detector
	embedder    engine.Embedder
	validate    *validator.Validate
	opts        Options
}

func New(p store.Persistence, d engine.Detector, e engine.Embedder, opts Options) *Service {
	return &Service{persistence: p, detector: d, embedder: e, validate: validator.New(), opts: opts}
}

// Brightness returns the mean gray level of img, 0-255.
func Brightness(img image.Image) float64 {
	gray := imaging.Grayscale(img)
	if len(gray.Pix) == 0 {
		return 0
	}
	var sum uint64
	// NRGBA layout: the gray value is repeated in R, G and B
	for i := 0; i < len(gray.Pix); i += 4 {
		sum += uint64(gray.Pix[i])
	}
	return float64(sum) / float64(len(gray.Pix)/4)
}

// Enroll validates one enrollment photo and, only when every check passes,
// stores its image and embedding in the requested slot. The final slot also
// writes the identity metadata, completing the enrollment.
func (s *Service) Enroll(ctx context.Context, req Request) (*Result, error) {
	if len(req.Image) == 0 {
		return nil, errortypes.Input(MsgNoImage)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, errortypes.Input(MsgMissingInfo)
	}
	if req.Slot >= s.opts.Slots {
		return nil, errortypes.Input(MsgBadIndex)
	}

	img, err := localizer.Decode(req.Image)
	if err != nil {
		return nil, errortypes.Detection(MsgUnreadable, err)
	}

	boxes, err := s.detector.Detect(ctx, req.Image)
	if err != nil {
		return nil, errortypes.Detection("Face detection failed", err)
	}
	switch {
	case len(boxes) == 0:
		return nil, errortypes.Detection(MsgNoFace, nil)
	case len(boxes) > 1:
		return nil, errortypes.Detection(MsgMultipleFaces, nil)
	}

	if Brightness(img) < s.opts.MinBrightness {
		return nil, errortypes.Detection(MsgPoorLighting, nil)
	}

	vec, err := s.embedder.Embed(ctx, req.Image)
	if err != nil || !types.Embedding(vec).Valid(s.opts.Dim) {
		return nil, errortypes.Detection(MsgNoFeatures, err)
	}

	key := types.IdentityKey(req.Name, req.RollNo)
	if err := s.persistence.SaveImage(ctx, key, req.Slot, req.Image); err != nil {
		return nil, errortypes.Unexpected(fmt.Errorf("saving image: %w", err))
	}
	if err := s.persistence.SaveEmbedding(ctx, key, req.Slot, vec); err != nil {
		return nil, errortypes.Unexpected(fmt.Errorf("saving embedding: %w", err))
	}

	res := &Result{Key: key, Slot: req.Slot}
	if req.Slot < s.opts.Slots-1 {
		res.Message = fmt.Sprintf("Image %d uploaded and validated successfully", req.Slot+1)
		logger.Info("enrollment image stored",
			logger.LoggerOptions{Key: "identity", Data: key},
			logger.LoggerOptions{Key: "slot", Data: req.Slot})
		return res, nil
	}

	images := make([]string, s.opts.Slots)
	for i := range images {
		images[i] = fmt.Sprintf("image_%d.jpg", i)
	}
	meta := types.IdentityMeta{
		Key:        key,
		Name:       req.Name,
		RollNo:     req.RollNo,
		Class:      req.Class,
		Attributes: req.Attributes,
		Images:     images,
		EnrolledAt: time.Now().UTC(),
	}
	if err := s.persistence.SaveMetadata(ctx, meta); err != nil {
		return nil, errortypes.Unexpected(fmt.Errorf("saving metadata: %w", err))
	}
	res.Complete = true
	res.Message = MsgComplete
	logger.Info("enrollment complete", logger.LoggerOptions{Key: "identity", Data: key})
	return res, nil
}
