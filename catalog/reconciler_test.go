package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/microbiomeViz/Picture-library/stores/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fallback = "Uncategorized"

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

// flakyStore wraps an AssetStore and lets tests inject failures.
type flakyStore struct {
	core.AssetStore
	listErr   error
	insertErr error
}

func (s *flakyStore) ListAssets(ctx context.Context) ([]*core.Asset, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.AssetStore.ListAssets(ctx)
}

func (s *flakyStore) InsertAsset(ctx context.Context, a *core.Asset) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.AssetStore.InsertAsset(ctx, a)
}

func seed(t *testing.T, store core.AssetStore, owner, name, category string) *core.Asset {
	t.Helper()
	a := &core.Asset{Name: name, Category: category, URL: "https://cdn.example/" + name + ".png", Owner: owner}
	require.NoError(t, store.InsertAsset(context.Background(), a))
	return a
}

func labels(v View) []string {
	out := make([]string, 0, len(v.Categories))
	for _, c := range v.Categories {
		out = append(out, c.Label)
	}
	return out
}

func TestUploadAssetFilesIntoCategory(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	objects := memory.NewObjectStore("http://localhost:3002")
	r := NewReconciler("U", store, objects, fallback)

	asset, err := r.UploadAsset(ctx, Upload{Filename: "beaker.png", Data: pngHeader}, "Instruments")
	require.NoError(t, err)
	assert.Equal(t, "beaker", asset.Name)
	assert.Equal(t, "U", asset.Owner)
	assert.True(t, strings.HasSuffix(asset.URL, ".png"), "url %q should keep the extension", asset.URL)

	got := r.Filter("Instruments", "")
	require.Len(t, got, 1)
	assert.Equal(t, "beaker", got[0].Name)
	assert.Equal(t, "U", got[0].Owner)

	key, ok := objects.KeyFromURL(asset.URL)
	require.True(t, ok)
	_, contentType, err := objects.Open(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
}

func TestUploadAssetDefaultsToUploadTarget(t *testing.T) {
	ctx := context.Background()
	r := NewReconciler("U", memory.NewStore(), memory.NewObjectStore("http://x"), fallback)
	require.NoError(t, r.CreateCategory("Cells"))

	asset, err := r.UploadAsset(ctx, Upload{Filename: "a.b.svg", Data: []byte("<svg></svg>")}, "")
	require.NoError(t, err)
	assert.Equal(t, "Cells", asset.Category)
	assert.Equal(t, "a", asset.Name)

	v := r.View()
	assert.Equal(t, []string{"Cells"}, labels(v))
	assert.Equal(t, Persisted, v.Categories[0].State)
}

func TestUploadAssetDistinctPaths(t *testing.T) {
	ctx := context.Background()
	objects := memory.NewObjectStore("http://x")
	r := NewReconciler("U", memory.NewStore(), objects, fallback)

	a, err := r.UploadAsset(ctx, Upload{Filename: "same.png", Data: pngHeader}, "X")
	require.NoError(t, err)
	b, err := r.UploadAsset(ctx, Upload{Filename: "same.png", Data: pngHeader}, "X")
	require.NoError(t, err)

	assert.NotEqual(t, a.URL, b.URL)
	assert.Equal(t, 2, objects.Len())
}

func TestUploadAssetValidation(t *testing.T) {
	r := NewReconciler("U", memory.NewStore(), memory.NewObjectStore("http://x"), fallback)

	_, err := r.UploadAsset(context.Background(), Upload{Filename: "", Data: pngHeader}, "X")
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = r.UploadAsset(context.Background(), Upload{Filename: "x.png"}, "X")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestUploadAssetOrphansObjectWhenInsertFails(t *testing.T) {
	objects := memory.NewObjectStore("http://x")
	store := &flakyStore{AssetStore: memory.NewStore(), insertErr: fmt.Errorf("boom: %w", core.ErrTransport)}
	r := NewReconciler("U", store, objects, fallback)

	_, err := r.UploadAsset(context.Background(), Upload{Filename: "x.png", Data: pngHeader}, "X")
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.Equal(t, 1, objects.Len(), "uploaded object stays behind")
}

func TestRenameCategoryWithoutEligibleAssets(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "U", "beaker", "Instruments")
	seed(t, store, "U", "flask", "Instruments")

	r := NewReconciler("V", store, memory.NewObjectStore("http://x"), fallback)
	r.Refresh(ctx)

	n, err := r.RenameCategory(ctx, "Instruments", "Tools")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	assets, err := store.ListAssets(ctx)
	require.NoError(t, err)
	for _, a := range assets {
		assert.Equal(t, "Instruments", a.Category)
	}
}

func TestRenameCategoryMovesOwnedAssets(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "U", "beaker", "Instruments")
	seed(t, store, "V", "flask", "Instruments")

	r := NewReconciler("U", store, memory.NewObjectStore("http://x"), fallback)
	r.Refresh(ctx)

	n, err := r.RenameCategory(ctx, "Instruments", "Tools")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	v := r.View()
	assert.ElementsMatch(t, []string{"Instruments", "Tools"}, labels(v))
	assert.Equal(t, "Tools", v.Selected)
	assert.Equal(t, "Tools", v.UploadTarget)
	assert.Len(t, r.Filter("Tools", ""), 1)
	assert.Len(t, r.Filter("Instruments", ""), 1)
}

func TestRenameCategoryMatchesDisplayedLabel(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "U", "beaker", "")
	seed(t, store, "U", "flask", "  Glass ")
	seed(t, store, "U", "vial", "Glass")

	r := NewReconciler("U", store, memory.NewObjectStore("http://x"), fallback)
	r.Refresh(ctx)
	require.Equal(t, []string{fallback, "Glass"}, labels(r.View()))
	require.Len(t, r.Filter(fallback, ""), 1)

	n, err := r.RenameCategory(ctx, fallback, "Instruments")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = r.RenameCategory(ctx, "Glass", "Glassware")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.Equal(t, []string{"Instruments", "Glassware"}, labels(r.View()))
	assert.Len(t, r.Filter("Glassware", ""), 2)
}

func TestCreateCategoryIsNotDurable(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "U", "beaker", "Instruments")

	r := NewReconciler("U", store, memory.NewObjectStore("http://x"), fallback)
	r.Refresh(ctx)
	require.NoError(t, r.CreateCategory("Empty"))

	v := r.View()
	assert.Equal(t, []string{"Instruments", "Empty"}, labels(v))
	assert.Equal(t, Declared, v.Categories[1].State)
	assert.Equal(t, "Empty", v.Selected)

	r.Refresh(ctx)
	v = r.View()
	assert.Equal(t, []string{"Instruments"}, labels(v))
	assert.Equal(t, "Instruments", v.Selected)
	assert.Equal(t, "Instruments", v.UploadTarget)
}

func TestCreateCategoryErrors(t *testing.T) {
	r := NewReconciler("U", memory.NewStore(), memory.NewObjectStore("http://x"), fallback)

	assert.ErrorIs(t, r.CreateCategory("  "), core.ErrValidation)
	assert.ErrorIs(t, r.CreateCategory(fallback), core.ErrDuplicateCategory)
	require.NoError(t, r.CreateCategory("Cells"))
	assert.ErrorIs(t, r.CreateCategory("Cells"), core.ErrDuplicateCategory)
}

func TestSelectUnknownCategory(t *testing.T) {
	r := NewReconciler("U", memory.NewStore(), memory.NewObjectStore("http://x"), fallback)
	assert.ErrorIs(t, r.Select("nope"), core.ErrNotFound)
	assert.Equal(t, fallback, r.View().Selected)
}

func TestRefreshPartitionsAssets(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "U", "beaker", "Instruments")
	seed(t, store, "U", "cell", "Cells")
	seed(t, store, "V", "loose", "")
	seed(t, store, "V", "flask", "Instruments")

	r := NewReconciler("U", store, memory.NewObjectStore("http://x"), fallback)
	r.Refresh(ctx)

	v := r.View()
	assert.Equal(t, []string{"Instruments", "Cells", fallback}, labels(v))

	seen := map[string]int{}
	total := 0
	for _, c := range v.Categories {
		assert.Equal(t, Persisted, c.State)
		for _, a := range r.Filter(c.Label, "") {
			seen[a.ID]++
			total++
		}
	}
	assert.Equal(t, 4, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "asset %s appears in %d categories", id, n)
	}
}

func TestRefreshEmptyCatalog(t *testing.T) {
	r := NewReconciler("U", memory.NewStore(), memory.NewObjectStore("http://x"), fallback)
	require.NoError(t, r.CreateCategory("Temp"))
	r.Refresh(context.Background())

	v := r.View()
	require.Len(t, v.Categories, 1)
	assert.Equal(t, fallback, v.Categories[0].Label)
	assert.Equal(t, 0, v.Categories[0].Count)
	assert.Equal(t, fallback, v.Selected)
	assert.Equal(t, fallback, v.UploadTarget)
}

func TestRefreshFailureKeepsCache(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	seed(t, mem, "U", "beaker", "Instruments")
	store := &flakyStore{AssetStore: mem}

	r := NewReconciler("U", store, memory.NewObjectStore("http://x"), fallback)
	r.Refresh(ctx)
	require.Len(t, r.Filter("Instruments", ""), 1)

	store.listErr = fmt.Errorf("offline: %w", core.ErrTransport)
	seed(t, mem, "U", "flask", "Instruments")
	r.Refresh(ctx)

	assert.Len(t, r.Filter("Instruments", ""), 1)
}

// gatedStore blocks the first ListAssets call until release is closed.
type gatedStore struct {
	core.AssetStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
	stale   []*core.Asset
}

func (s *gatedStore) ListAssets(ctx context.Context) ([]*core.Asset, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
		return s.stale, nil
	}
	return s.AssetStore.ListAssets(ctx)
}

func TestRefreshDiscardsStaleResponse(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	seed(t, mem, "U", "fresh", "New")
	store := &gatedStore{
		AssetStore: mem,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
		stale:      []*core.Asset{{ID: "old", Name: "old", Category: "Old", Owner: "U"}},
	}
	r := NewReconciler("U", store, memory.NewObjectStore("http://x"), fallback)

	done := make(chan struct{})
	go func() {
		r.Refresh(ctx)
		close(done)
	}()
	<-store.entered
	r.Refresh(ctx)
	close(store.release)
	<-done

	assert.Equal(t, []string{"New"}, labels(r.View()))
}

func TestFilterIsCaseSensitive(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, "U", "Beaker", "Instruments")
	seed(t, store, "U", "small beaker", "Instruments")
	seed(t, store, "U", "flask", "Instruments")

	r := NewReconciler("U", store, memory.NewObjectStore("http://x"), fallback)
	r.Refresh(ctx)

	tests := []struct {
		category, term string
		want           int
	}{
		{"Instruments", "", 3},
		{"Instruments", "beaker", 1},
		{"Instruments", "Beaker", 1},
		{"Instruments", "eaker", 2},
		{"Instruments", "BEAKER", 0},
		{"Missing", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.category+"/"+tt.term, func(t *testing.T) {
			got := r.Filter(tt.category, tt.term)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestRenameAsset(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	a := seed(t, store, "U", "beaker", "Instruments")

	other := NewReconciler("V", store, memory.NewObjectStore("http://x"), fallback)
	assert.ErrorIs(t, other.RenameAsset(ctx, a.ID, "hijack"), core.ErrOwnershipDenied)

	owner := NewReconciler("U", store, memory.NewObjectStore("http://x"), fallback)
	require.NoError(t, owner.RenameAsset(ctx, a.ID, "big beaker"))
	got := owner.Filter("Instruments", "big")
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	assert.ErrorIs(t, owner.RenameAsset(ctx, a.ID, " "), core.ErrValidation)
}

func TestDeleteAsset(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	objects := memory.NewObjectStore("http://x")
	owner := NewReconciler("U", store, objects, fallback)

	asset, err := owner.UploadAsset(ctx, Upload{Filename: "beaker.png", Data: pngHeader}, "Instruments")
	require.NoError(t, err)

	other := NewReconciler("V", store, objects, fallback)
	assert.ErrorIs(t, other.DeleteAsset(ctx, asset.ID), core.ErrOwnershipDenied)
	assert.Equal(t, 1, objects.Len(), "denied delete must not touch storage")

	require.NoError(t, owner.DeleteAsset(ctx, asset.ID))
	assert.Equal(t, 0, objects.Len())
	_, err = store.GetAsset(ctx, asset.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, owner.Filter("Instruments", ""))
}

func TestDeleteAssetProceedsWhenObjectRemovalFails(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	objects := memory.NewObjectStore("http://x")
	a := &core.Asset{Name: "ghost", Category: "C", URL: objects.PublicURL("missing.png"), Owner: "U"}
	require.NoError(t, store.InsertAsset(ctx, a))

	r := NewReconciler("U", store, objects, fallback)
	require.NoError(t, r.DeleteAsset(ctx, a.ID))

	_, err := store.GetAsset(ctx, a.ID)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestAssetName(t *testing.T) {
	tests := map[string]string{
		"beaker.png":     "beaker",
		"a.b.c.svg":      "a",
		"noext":          "noext",
		".hidden":        ".hidden",
		"dir/photo.jpeg": "photo",
	}
	for in, want := range tests {
		if got := assetName(in); got != want {
			t.Errorf("assetName(%q) mismatch: got %q, want %q", in, got, want)
		}
	}
}

func TestObjectKeyExtension(t *testing.T) {
	png := mimetype.Detect(pngHeader)
	tests := map[string]string{
		"beaker.png":          ".png",
		"scan.TIFF":           ".TIFF",
		"photo.png?raw=1":     ".png",
		"cell#1.sv g":         ".png",
		"noext":               ".png",
		`C:\shots\beaker.JPG`: ".JPG",
	}
	for in, want := range tests {
		key := objectKey(in, png)
		assert.Equal(t, want, key[26:], "objectKey(%q)", in)
	}
}

func TestUploadAssetURLWithUnsafeFilename(t *testing.T) {
	ctx := context.Background()
	objects := memory.NewObjectStore("http://x")
	r := NewReconciler("U", memory.NewStore(), objects, fallback)

	a, err := r.UploadAsset(ctx, Upload{Filename: "beaker.png?v=2#top", Data: pngHeader}, "X")
	require.NoError(t, err)
	assert.NotContains(t, a.URL, "?")
	assert.NotContains(t, a.URL, "#")
	key, ok := objects.KeyFromURL(a.URL)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(key, ".png"), key)
}
