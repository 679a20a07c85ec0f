package recognition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/andresmejia3/rollcall/internal/embedstore"
	"github.com/andresmejia3/rollcall/internal/engine"
	"github.com/andresmejia3/rollcall/internal/engine/enginetest"
	"github.com/andresmejia3/rollcall/internal/errortypes"
	"github.com/andresmejia3/rollcall/internal/gallery"
	"github.com/andresmejia3/rollcall/internal/localizer"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
	"github.com/andresmejia3/rollcall/internal/verify"
)

const dim = 128

// Face regions of the test group image: red, green and blue squares.
var blocks = []types.Box{
	{X: 10, Y: 10, W: 80, H: 80},
	{X: 110, Y: 10, W: 80, H: 80},
	{X: 210, Y: 10, W: 80, H: 80},
}

func groupImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 100))
	colors := []color.RGBA{{255, 0, 0, 255}, {0, 255, 0, 255}, {0, 0, 255, 255}}
	for x := 0; x < 300; x++ {
		for y := 0; y < 100; y++ {
			img.Set(x, y, colors[x/100])
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// dominantChannel returns 0, 1 or 2 for a mostly red, green or blue crop.
func dominantChannel(crop []byte) (int, error) {
	img, err := localizer.Decode(crop)
	if err != nil {
		return 0, err
	}
	b := img.Bounds()
	r, g, bl, _ := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).RGBA()
	switch {
	case r >= g && r >= bl:
		return 0, nil
	case g >= bl:
		return 1, nil
	default:
		return 2, nil
	}
}

// mix returns a unit vector at cosine similarity sim to axis a, using axis b for the rest.
func mix(a, b int, sim float64) []float32 {
	v := make([]float32, dim)
	v[a] = float32(sim)
	v[b] = float32(math.Sqrt(1 - sim*sim))
	return v
}

// colorEngine embeds each crop as the vector configured for its color.
func colorEngine(boxes []types.Box, byColor map[int][]float32) *enginetest.Fake {
	return &enginetest.Fake{
		DetectFn: func([]byte) ([]types.Box, error) { return boxes, nil },
		EmbedFn: func(img []byte) ([]float32, error) {
			ch, err := dominantChannel(img)
			if err != nil {
				return nil, err
			}
			vec, ok := byColor[ch]
			if !ok {
				return nil, errors.New("no face features")
			}
			return vec, nil
		},
	}
}

// enrollFull stores five valid embeddings on axes base..base+4, images and metadata.
func enrollFull(t *testing.T, p store.Persistence, name, roll string, base int) string {
	t.Helper()
	ctx := context.Background()
	key := types.IdentityKey(name, roll)
	for i := 0; i < 5; i++ {
		p.SaveEmbedding(ctx, key, i, enginetest.Unit(dim, base+i))
		p.SaveImage(ctx, key, i, []byte(key))
	}
	p.SaveMetadata(ctx, types.IdentityMeta{Key: key, Name: name, RollNo: roll, Class: "10A"})
	return key
}

type fixture struct {
	mem     *store.Memory
	scratch string
}

func newFixture(t *testing.T) *fixture {
	return &fixture{mem: store.NewMemory(), scratch: t.TempDir()}
}

func (f *fixture) pipeline(e engine.Embedder, d engine.Detector, v engine.Verifier, timeout time.Duration) *Pipeline {
	es := embedstore.New(f.mem, e, dim, 5)
	var fb *verify.Fallback
	if v != nil {
		fb = verify.New(v, f.mem, []int{2, 0, 1, 3, 4})
	}
	return NewPipeline(gallery.NewLoader(f.mem, es), localizer.New(d, 0.1), e, fb, Options{
		Dim:            dim,
		Threshold:      0.4,
		RequestTimeout: timeout,
		EmbedWorkers:   2,
		ScratchDir:     f.scratch,
	})
}

func (f *fixture) assertClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.scratch)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected workspace to be removed, found %d entries", len(entries))
	}
}

func names(resp *types.RecognitionResponse) []string {
	out := []string{}
	for _, r := range resp.Recognized {
		out = append(out, r.Name)
	}
	return out
}

func TestScenarioSingleMatch(t *testing.T) {
	f := newFixture(t)
	enrollFull(t, f.mem, "Alice", "01", 50)

	// Distance 0.1 to Alice's slot 3 embedding
	eng := colorEngine(blocks[:1], map[int][]float32{0: mix(53, 100, 0.9)})
	resp, err := f.pipeline(eng, eng, eng, time.Minute).Recognize(context.Background(), groupImage(t))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if !reflect.DeepEqual(names(resp), []string{"Alice"}) || resp.FacesDetected != 1 {
		t.Errorf("unexpected response: %v, faces=%d", names(resp), resp.FacesDetected)
	}
	if resp.Recognized[0].Strategy != types.StrategySimilarity || resp.Recognized[0].RollNo != "01" {
		t.Errorf("unexpected result %+v", resp.Recognized[0])
	}
	f.assertClean(t)
}

func TestScenarioTwoMatchesSortedByName(t *testing.T) {
	f := newFixture(t)
	enrollFull(t, f.mem, "Bob", "02", 30)
	enrollFull(t, f.mem, "Amy", "01", 90)

	// red face -> Bob (distance 0.2), green face -> Amy (distance 0.2)
	eng := colorEngine(blocks[:2], map[int][]float32{
		0: mix(31, 120, 0.8),
		1: mix(90, 121, 0.8),
	})
	resp, err := f.pipeline(eng, eng, nil, time.Minute).Recognize(context.Background(), groupImage(t))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	got := names(resp)
	if len(got) != 2 || got[0] != "Amy" || got[1] != "Bob" {
		t.Fatalf("expected [Amy Bob], got %v", got)
	}
}

func TestScenarioBrokenIdentityExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// Cat has metadata and malformed embeddings but no stored images
	f.mem.SaveMetadata(ctx, types.IdentityMeta{Key: "Cat_03", Name: "Cat", RollNo: "03"})
	f.mem.SaveEmbedding(ctx, "Cat_03", 0, []float32{1, 2, 3})

	always := colorEngine(blocks[:1], map[int][]float32{0: enginetest.Unit(dim, 0)})
	always.VerifyFn = func(a, b []byte) (types.Verification, error) {
		return types.Verification{Verified: true}, nil
	}

	resp, err := f.pipeline(always, always, always, time.Minute).Recognize(ctx, groupImage(t))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if len(resp.Recognized) != 0 {
		t.Errorf("excluded identity recognized: %v", names(resp))
	}
	if len(resp.Report.Skipped) != 1 || resp.Report.Skipped[0].Key != "Cat_03" {
		t.Errorf("expected Cat_03 to be reported as skipped, got %+v", resp.Report.Skipped)
	}
}

func TestScenarioNoFaces(t *testing.T) {
	f := newFixture(t)
	enrollFull(t, f.mem, "Alice", "01", 50)

	eng := colorEngine(nil, nil)
	resp, err := f.pipeline(eng, eng, eng, time.Minute).Recognize(context.Background(), groupImage(t))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if resp.FacesDetected != 0 || resp.Recognized == nil || len(resp.Recognized) != 0 {
		t.Errorf("expected empty non-nil result, got %+v", resp)
	}
	if _, verifies := eng.Calls(); verifies != 0 {
		t.Errorf("fallback should not run without faces, got %d verifications", verifies)
	}
}

func TestVerificationFallbackRecoversFace(t *testing.T) {
	f := newFixture(t)
	enrollFull(t, f.mem, "Alice", "01", 50)
	dan := enrollFull(t, f.mem, "Dan", "04", 60)

	// red face matches Alice; green face is unknown to similarity but verifies as Dan
	eng := colorEngine(blocks[:2], map[int][]float32{
		0: enginetest.Unit(dim, 50),
		1: enginetest.Unit(dim, 127),
	})
	eng.VerifyFn = func(crop, enrolled []byte) (types.Verification, error) {
		ch, _ := dominantChannel(crop)
		return types.Verification{Verified: ch == 1 && string(enrolled) == dan, Distance: 0.3}, nil
	}

	resp, err := f.pipeline(eng, eng, eng, time.Minute).Recognize(context.Background(), groupImage(t))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if !reflect.DeepEqual(names(resp), []string{"Alice", "Dan"}) {
		t.Fatalf("expected [Alice Dan], got %v", names(resp))
	}
	if resp.Recognized[1].Strategy != types.StrategyVerification {
		t.Errorf("expected Dan via verification, got %q", resp.Recognized[1].Strategy)
	}
}

func TestRecognizedNeverExceedsFaces(t *testing.T) {
	f := newFixture(t)
	for i, n := range []string{"Ann", "Ben", "Cy", "Di"} {
		enrollFull(t, f.mem, n, "1", 10*i)
	}
	// No similarity match, and every pair verifies
	eng := colorEngine(blocks[:1], map[int][]float32{0: enginetest.Unit(dim, 127)})
	eng.VerifyFn = func(a, b []byte) (types.Verification, error) {
		return types.Verification{Verified: true}, nil
	}

	resp, err := f.pipeline(eng, eng, eng, time.Minute).Recognize(context.Background(), groupImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Recognized) > resp.FacesDetected {
		t.Errorf("recognized %d identities from %d faces", len(resp.Recognized), resp.FacesDetected)
	}
}

func TestRecognizeDeterministic(t *testing.T) {
	f := newFixture(t)
	enrollFull(t, f.mem, "Eve", "5", 30)
	enrollFull(t, f.mem, "Fay", "6", 30)
	same := enginetest.Unit(dim, 30) // ties between Eve and Fay
	eng := colorEngine(blocks, map[int][]float32{0: same, 1: same, 2: same})

	p := f.pipeline(eng, eng, nil, time.Minute)
	first, err := p.Recognize(context.Background(), groupImage(t))
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Recognize(context.Background(), groupImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names(first), names(second)) {
		t.Errorf("results differ between runs: %v vs %v", names(first), names(second))
	}
	if len(first.Recognized) != 2 {
		t.Errorf("expected both identities once, got %v", names(first))
	}
}

func TestFailedFacesAreCounted(t *testing.T) {
	f := newFixture(t)
	enrollFull(t, f.mem, "Alice", "01", 50)

	// green has no features, blue has the wrong dimension
	eng := colorEngine(blocks, map[int][]float32{0: enginetest.Unit(dim, 50), 2: {1, 2, 3}})
	resp, err := f.pipeline(eng, eng, nil, time.Minute).Recognize(context.Background(), groupImage(t))
	if err != nil {
		t.Fatal(err)
	}
	if resp.FacesDetected != 3 {
		t.Errorf("expected 3 faces detected, got %d", resp.FacesDetected)
	}
	if len(resp.Report.FailedFaces) != 2 {
		t.Errorf("expected 2 failed faces, got %+v", resp.Report.FailedFaces)
	}
	if !reflect.DeepEqual(names(resp), []string{"Alice"}) {
		t.Errorf("unexpected recognized %v", names(resp))
	}
}

type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRecognizeTimeout(t *testing.T) {
	f := newFixture(t)
	enrollFull(t, f.mem, "Alice", "01", 50)
	det := colorEngine(blocks[:1], nil)

	_, err := f.pipeline(blockingEmbedder{}, det, nil, 50*time.Millisecond).Recognize(context.Background(), groupImage(t))
	if errortypes.KindOf(err) != errortypes.KindTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if errortypes.HTTPStatus(err) != 504 {
		t.Errorf("expected 504, got %d", errortypes.HTTPStatus(err))
	}
	f.assertClean(t)
}

func TestRecognizeRecoversPanic(t *testing.T) {
	f := newFixture(t)
	det := &enginetest.Fake{DetectFn: func([]byte) ([]types.Box, error) { panic("detector exploded") }}

	_, err := f.pipeline(det, det, nil, time.Minute).Recognize(context.Background(), groupImage(t))
	if errortypes.KindOf(err) != errortypes.KindUnexpected {
		t.Fatalf("expected unexpected error, got %v", err)
	}
	f.assertClean(t)
}

type failingList struct{ *store.Memory }

func (failingList) ListIdentityKeys(ctx context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}

func TestRecognizeErrors(t *testing.T) {
	f := newFixture(t)
	eng := colorEngine(blocks[:1], nil)
	p := f.pipeline(eng, eng, nil, time.Minute)

	if _, err := p.Recognize(context.Background(), nil); errortypes.KindOf(err) != errortypes.KindInput {
		t.Errorf("expected input error for empty image, got %v", err)
	}
	if _, err := p.Recognize(context.Background(), []byte("garbage")); errortypes.KindOf(err) != errortypes.KindDetection {
		t.Errorf("expected detection error for garbage image, got %v", err)
	}

	broken := failingList{store.NewMemory()}
	bp := NewPipeline(gallery.NewLoader(broken, embedstore.New(broken, eng, dim, 5)), localizer.New(eng, 0.1), eng, nil,
		Options{Dim: dim, Threshold: 0.4, ScratchDir: f.scratch})
	if _, err := bp.Recognize(context.Background(), groupImage(t)); errortypes.KindOf(err) != errortypes.KindUnexpected {
		t.Errorf("expected unexpected error for listing failure, got %v", err)
	}
	f.assertClean(t)
}
