// Package localizer turns a group image into margin-expanded face crops.
package localizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/andresmejia3/rollcall/internal/engine"
	"github.com/andresmejia3/rollcall/internal/errortypes"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var ErrEmptyCrop = errors.New("face crop is empty")

type Adapter struct {
	detector engine.Detector
	margin   float64
}

func New(d engine.Detector, margin float64) *Adapter {
	return &Adapter{detector: d, margin: margin}
}

// ExpandBox grows box by margin of its width and height on every side, clamped to the image.
// Margins are truncated to whole pixels.
func ExpandBox(box types.Box, imgW, imgH int, margin float64) types.Box {
	mx := int(float64(box.W) * margin)
	my := int(float64(box.H) * margin)

	x0 := max(0, box.X-mx)
	y0 := max(0, box.Y-my)
	x1 := min(imgW, box.X+box.W+mx)
	y1 := min(imgH, box.Y+box.H+my)

	return types.Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Decode parses any supported image format (JPEG, PNG, GIF, BMP, WebP).
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodeJPEG encodes img at high quality for the inference backend.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Localize detects faces and writes one crop per face into ws.
// Every detector box yields a face, in detector order; faces whose crop is
// unusable carry Err and are still counted.
func (a *Adapter) Localize(ctx context.Context, data []byte, ws *Workspace) ([]types.DetectedFace, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, errortypes.Detection("Invalid image file", err)
	}
	if _, err := ws.WriteGroup(data); err != nil {
		return nil, err
	}

	boxes, err := a.detector.Detect(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errortypes.Detection("Face detection failed", err)
	}

	bounds := img.Bounds()
	faces := make([]types.DetectedFace, len(boxes))
	for i, box := range boxes {
		face := types.DetectedFace{Index: i, Box: box}
		face.CropBox = ExpandBox(box, bounds.Dx(), bounds.Dy(), a.margin)

		if face.CropBox.Empty() {
			face.Err = ErrEmptyCrop
			faces[i] = face
			continue
		}

		rect := image.Rect(face.CropBox.X, face.CropBox.Y, face.CropBox.X+face.CropBox.W, face.CropBox.Y+face.CropBox.H).
			Add(bounds.Min)
		crop, err := EncodeJPEG(imaging.Crop(img, rect))
		if err != nil {
			face.Err = err
			faces[i] = face
			continue
		}
		path, err := ws.WriteCrop(crop)
		if err != nil {
			return nil, fmt.Errorf("writing face crop: %w", err)
		}
		face.Crop = crop
		face.CropPath = path
		faces[i] = face
	}

	logger.Debug("faces localized", logger.LoggerOptions{Key: "count", Data: len(faces)})
	return faces, nil
}
