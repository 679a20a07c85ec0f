package localizer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/rollcall/internal/engine/enginetest"
	"github.com/andresmejia3/rollcall/internal/errortypes"
	"github.com/andresmejia3/rollcall/internal/types"
)

func TestExpandBox(t *testing.T) {
	tests := []struct {
		name   string
		box    types.Box
		margin float64
		want   types.Box
	}{
		{"centered", types.Box{X: 10, Y: 10, W: 20, H: 20}, 0.1, types.Box{X: 8, Y: 8, W: 24, H: 24}},
		{"margin truncates", types.Box{X: 0, Y: 0, W: 15, H: 15}, 0.1, types.Box{X: 0, Y: 0, W: 16, H: 16}},
		{"clamped at far edge", types.Box{X: 90, Y: 90, W: 20, H: 20}, 0.1, types.Box{X: 88, Y: 88, W: 12, H: 12}},
		{"zero margin", types.Box{X: 5, Y: 6, W: 7, H: 8}, 0, types.Box{X: 5, Y: 6, W: 7, H: 8}},
		{"tiny box has no margin", types.Box{X: 50, Y: 50, W: 9, H: 9}, 0.1, types.Box{X: 50, Y: 50, W: 9, H: 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandBox(tt.box, 100, 100, tt.margin); got != tt.want {
				t.Errorf("ExpandBox(%+v) = %+v, want %+v", tt.box, got, tt.want)
			}
		})
	}

	if !ExpandBox(types.Box{X: 200, Y: 200, W: 10, H: 10}, 100, 100, 0.1).Empty() {
		t.Error("box outside the image should expand to an empty region")
	}
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestLocalize(t *testing.T) {
	det := &enginetest.Fake{DetectFn: func(image []byte) ([]types.Box, error) {
		return []types.Box{
			{X: 10, Y: 10, W: 20, H: 20},
			{X: 500, Y: 500, W: 10, H: 10}, // off-image
			{X: 70, Y: 50, W: 30, H: 30},
		}, nil
	}}
	ws := newWorkspace(t)
	defer ws.Release()

	faces, err := New(det, 0.1).Localize(context.Background(), testPNG(t, 100, 80), ws)
	if err != nil {
		t.Fatalf("Localize failed: %v", err)
	}
	if len(faces) != 3 {
		t.Fatalf("expected 3 faces, got %d", len(faces))
	}
	for i, f := range faces {
		if f.Index != i {
			t.Errorf("face %d has index %d", i, f.Index)
		}
	}

	if faces[0].Err != nil || len(faces[0].Crop) == 0 {
		t.Fatalf("expected first face to have a crop, err=%v", faces[0].Err)
	}
	crop, err := Decode(faces[0].Crop)
	if err != nil {
		t.Fatal(err)
	}
	if crop.Bounds().Dx() != 24 || crop.Bounds().Dy() != 24 {
		t.Errorf("expected 24x24 crop, got %v", crop.Bounds())
	}
	if _, err := os.Stat(faces[0].CropPath); err != nil {
		t.Errorf("crop not written to workspace: %v", err)
	}
	if filepath.Dir(faces[0].CropPath) != ws.Dir {
		t.Errorf("crop written outside workspace: %s", faces[0].CropPath)
	}

	if !errors.Is(faces[1].Err, ErrEmptyCrop) || faces[1].Crop != nil {
		t.Errorf("expected off-image face to fail with ErrEmptyCrop, got %v", faces[1].Err)
	}

	// Clamped to the 100x80 image
	if faces[2].CropBox != (types.Box{X: 67, Y: 47, W: 33, H: 33}) {
		t.Errorf("unexpected crop box %+v", faces[2].CropBox)
	}
}

func TestLocalizeErrors(t *testing.T) {
	ws := newWorkspace(t)
	defer ws.Release()

	_, err := New(&enginetest.Fake{}, 0.1).Localize(context.Background(), []byte("not an image"), ws)
	if errortypes.KindOf(err) != errortypes.KindDetection {
		t.Errorf("expected detection error for garbage input, got %v", err)
	}

	failing := &enginetest.Fake{DetectFn: func([]byte) ([]types.Box, error) {
		return nil, errors.New("model crashed")
	}}
	_, err = New(failing, 0.1).Localize(context.Background(), testPNG(t, 10, 10), ws)
	if errortypes.KindOf(err) != errortypes.KindDetection {
		t.Errorf("expected detection error for detector failure, got %v", err)
	}
}

func TestLocalizeNoFaces(t *testing.T) {
	ws := newWorkspace(t)
	defer ws.Release()

	faces, err := New(&enginetest.Fake{}, 0.1).Localize(context.Background(), testPNG(t, 10, 10), ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(faces) != 0 {
		t.Errorf("expected no faces, got %d", len(faces))
	}
}

func TestWorkspaceRelease(t *testing.T) {
	ws := newWorkspace(t)
	if _, err := ws.WriteCrop([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if err := ws.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Errorf("workspace still exists after release: %v", err)
	}

	var nilWS *Workspace
	if err := nilWS.Release(); err != nil {
		t.Errorf("nil workspace release should be a no-op, got %v", err)
	}
}
