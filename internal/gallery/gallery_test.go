package gallery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/rollcall/internal/embedstore"
	"github.com/andresmejia3/rollcall/internal/engine/enginetest"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
)

const dim = 4

func enroll(t *testing.T, p store.Persistence, name, roll string, slots int) string {
	t.Helper()
	ctx := context.Background()
	key := types.IdentityKey(name, roll)
	for i := 0; i < slots; i++ {
		if err := p.SaveEmbedding(ctx, key, i, enginetest.Unit(dim, i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.SaveMetadata(ctx, types.IdentityMeta{Key: key, Name: name, RollNo: roll}); err != nil {
		t.Fatal(err)
	}
	return key
}

func newLoader(p store.Persistence, fake *enginetest.Fake) *Loader {
	return NewLoader(p, embedstore.New(p, fake, dim, 5))
}

func TestLoadSkipsAndOrders(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	enroll(t, mem, "Zed", "9", 5)
	enroll(t, mem, "Amy", "1", 5)
	// Partial enrollment: embeddings but no metadata yet
	mem.SaveEmbedding(ctx, "Kim_5", 0, enginetest.Unit(dim, 0))
	// Metadata but no usable embeddings or images
	mem.SaveMetadata(ctx, types.IdentityMeta{Key: "Bob_2", Name: "Bob", RollNo: "2"})

	g, report, err := newLoader(mem, &enginetest.Fake{}).Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if g.Len() != 2 {
		t.Fatalf("expected 2 identities, got %d", g.Len())
	}
	if g.Identities[0].Key != "Amy_1" || g.Identities[1].Key != "Zed_9" {
		t.Errorf("gallery not sorted by key: %s, %s", g.Identities[0].Key, g.Identities[1].Key)
	}

	reasons := map[string]string{}
	for _, s := range report.Skipped {
		reasons[s.Key] = s.Reason
	}
	if reasons["Kim_5"] != ReasonMissingMetadata {
		t.Errorf("expected Kim_5 skipped for missing metadata, got %q", reasons["Kim_5"])
	}
	if reasons["Bob_2"] != ReasonNoEmbeddings {
		t.Errorf("expected Bob_2 skipped for no embeddings, got %q", reasons["Bob_2"])
	}
}

func TestLoadRegeneratesOnce(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	// Every slot malformed, every image still stored
	mem.SaveMetadata(ctx, types.IdentityMeta{Key: "Cat_3", Name: "Cat", RollNo: "3"})
	for i := 0; i < 5; i++ {
		mem.SaveEmbedding(ctx, "Cat_3", i, []float32{1, 2})
		mem.SaveImage(ctx, "Cat_3", i, []byte("img"))
	}

	fake := &enginetest.Fake{EmbedFn: func(image []byte) ([]float32, error) {
		return enginetest.Unit(dim, 2), nil
	}}
	g, report, err := newLoader(mem, fake).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 1 || len(g.Identities[0].Embeddings) != 5 {
		t.Fatalf("expected Cat_3 with 5 regenerated embeddings, got %+v", g.Identities)
	}
	if len(report.Regenerated) != 1 || report.Regenerated[0] != "Cat_3" {
		t.Errorf("expected Cat_3 in Regenerated, got %v", report.Regenerated)
	}
	if embeds, _ := fake.Calls(); embeds != 5 {
		t.Errorf("expected one regeneration pass (5 embeds), got %d", embeds)
	}
}

func TestLoadCorruptMetadata(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	files, err := store.NewFiles(root)
	if err != nil {
		t.Fatal(err)
	}
	enroll(t, files, "Dan", "4", 5)
	key := enroll(t, files, "Eve", "5", 5)
	os.WriteFile(filepath.Join(root, "face_info", key, "info.json"), []byte("{"), 0o644)

	g, report, err := newLoader(files, &enginetest.Fake{}).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 1 || g.Identities[0].Name != "Dan" {
		t.Errorf("expected only Dan, got %+v", g.Identities)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Reason != ReasonCorruptMetadata {
		t.Errorf("unexpected skipped %+v", report.Skipped)
	}
}

type failingList struct{ *store.Memory }

func (failingList) ListIdentityKeys(ctx context.Context) ([]string, error) {
	return nil, errors.New("disk on fire")
}

func TestLoadListingFailure(t *testing.T) {
	p := failingList{store.NewMemory()}
	if _, _, err := newLoader(p, &enginetest.Fake{}).Load(context.Background()); err == nil {
		t.Fatal("expected listing failure to be returned")
	}
}

func TestLoadEmptyStore(t *testing.T) {
	g, report, err := newLoader(store.NewMemory(), &enginetest.Fake{}).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 0 || len(report.Skipped) != 0 {
		t.Errorf("expected empty gallery and report, got %d / %v", g.Len(), report.Skipped)
	}
}
