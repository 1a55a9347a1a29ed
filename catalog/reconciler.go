// Package catalog keeps a per-user, categorized view of the shared asset
// library in step with the row store.
package catalog

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microbiomeViz/Picture-library/core"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type (
	// Upload is a file received from the user.
	Upload struct {
		Filename string
		Data     []byte
	}

	CategoryView struct {
		Label string        `json:"label"`
		State categoryState `json:"state"`
		Count int           `json:"count"`
	}

	// View is a copy of the cache state for rendering.
	View struct {
		Categories   []CategoryView `json:"categories"`
		Selected     string         `json:"selected"`
		UploadTarget string         `json:"uploadTarget"`
	}

	// Reconciler owns one user's local catalog cache.
	Reconciler struct {
		user     string
		assets   core.AssetStore
		objects  core.ObjectStore
		fallback string
		log      *logrus.Entry

		seq atomic.Uint64

		mu       sync.Mutex
		applied  uint64
		cache    *cache
		selected string
		target   string
	}
)

func NewReconciler(user string, assets core.AssetStore, objects core.ObjectStore, fallback string) *Reconciler {
	c := newCache()
	c.declare(fallback)
	return &Reconciler{
		user:     user,
		assets:   assets,
		objects:  objects,
		fallback: fallback,
		log:      logrus.WithField("user_id", user),
		cache:    c,
		selected: fallback,
		target:   fallback,
	}
}

// User returns the identity the reconciler acts as.
func (r *Reconciler) User() string {
	return r.user
}

// Refresh replaces the cache with the store's current asset list. Failures
// are logged and leave the previous cache in place. A response that arrives
// after a newer refresh has been applied is discarded.
func (r *Reconciler) Refresh(ctx context.Context) {
	seq := r.seq.Add(1)

	assets, err := r.assets.ListAssets(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Catalog refresh failed, keeping previous cache")
		return
	}
	next := buildCache(assets, r.fallback)

	r.mu.Lock()
	defer r.mu.Unlock()

	if seq < r.applied {
		r.log.WithFields(logrus.Fields{"seq": seq, "applied": r.applied}).Debug("Discarding stale catalog refresh")
		return
	}
	r.applied = seq
	r.cache = next

	if !next.has(r.selected) {
		r.selected = next.first()
		r.target = r.selected
	}
	if !next.has(r.target) {
		r.target = r.selected
	}
	r.log.WithFields(logrus.Fields{"assets": len(assets), "categories": len(next.order)}).Debug("Catalog refreshed")
}

// CreateCategory declares an empty, local-only category and selects it.
func (r *Reconciler) CreateCategory(label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return fmt.Errorf("category label is required: %w", core.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache.has(label) {
		return fmt.Errorf("%q: %w", label, core.ErrDuplicateCategory)
	}
	r.cache.declare(label)
	r.selected = label
	r.target = label
	return nil
}

// Select points the selection and the upload target at an existing category.
func (r *Reconciler) Select(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cache.has(label) {
		return fmt.Errorf("category %q: %w", label, core.ErrNotFound)
	}
	r.selected = label
	r.target = label
	return nil
}

// RenameCategory moves the caller's assets from one label to another and
// returns how many moved. Zero means none of the assets under from belong to
// the caller; it is not an error.
func (r *Reconciler) RenameCategory(ctx context.Context, from, to string) (int64, error) {
	to = strings.TrimSpace(to)
	if from == "" || to == "" {
		return 0, fmt.Errorf("category labels are required: %w", core.ErrValidation)
	}

	r.mu.Lock()
	stored := r.cache.storedLabels(from, r.fallback)
	r.mu.Unlock()

	var n int64
	for _, raw := range stored {
		affected, err := r.assets.RecategorizeOwned(ctx, r.user, raw, to)
		if err != nil {
			return 0, err
		}
		n += affected
	}
	log := r.log.WithFields(logrus.Fields{"from": from, "to": to, "affected": n})
	if n == 0 {
		log.Info("No eligible assets to rename")
		return 0, nil
	}

	r.Refresh(ctx)
	if err := r.Select(to); err != nil {
		log.WithError(err).Warn("Renamed category missing after refresh")
	}
	log.Info("Category renamed")
	return n, nil
}

// RenameAsset changes an asset's display name.
func (r *Reconciler) RenameAsset(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if id == "" || name == "" {
		return fmt.Errorf("asset id and name are required: %w", core.ErrValidation)
	}

	n, err := r.assets.RenameAsset(ctx, r.user, id, name)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rename asset %s: %w", id, core.ErrOwnershipDenied)
	}
	r.Refresh(ctx)
	return nil
}

// DeleteAsset removes the backing object and then the record. A failed
// object removal is logged and the record is deleted anyway.
func (r *Reconciler) DeleteAsset(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("asset id is required: %w", core.ErrValidation)
	}
	log := r.log.WithField("asset_id", id)

	asset, err := r.assets.GetAsset(ctx, id)
	if err != nil {
		return err
	}
	if asset.Owner != r.user {
		return fmt.Errorf("delete asset %s: %w", id, core.ErrOwnershipDenied)
	}

	if key, ok := r.objects.KeyFromURL(asset.URL); ok {
		if err := r.objects.Remove(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("Failed to remove asset content, orphaning it")
		}
	} else {
		log.WithField("url", asset.URL).Debug("Asset content is not held by this object store")
	}

	n, err := r.assets.DeleteAsset(ctx, r.user, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delete asset %s: %w", id, core.ErrOwnershipDenied)
	}
	log.Info("Asset deleted")
	r.Refresh(ctx)
	return nil
}

// objectKey returns a storage key: a ULID (millisecond timestamp plus
// monotonic entropy) followed by the original extension. Extensions that are
// not plain alphanumerics are replaced by the one of the detected type.
func objectKey(filename string, mt *mimetype.MIME) string {
	ext := path.Ext(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if !plainExtension(ext) {
		ext = mt.Extension()
	}
	return ulid.Make().String() + ext
}

func plainExtension(ext string) bool {
	if len(ext) < 2 || len(ext) > 11 {
		return false
	}
	for _, c := range ext[1:] {
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// assetName is the file name up to its first dot.
func assetName(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name, _, _ := strings.Cut(base, "."); name != "" {
		return name
	}
	return base
}

// UploadAsset stores the bytes, then inserts the record. The two steps are
// not atomic: when the insert fails the object stays behind as an orphan.
func (r *Reconciler) UploadAsset(ctx context.Context, upload Upload, category string) (*core.Asset, error) {
	if strings.TrimSpace(upload.Filename) == "" {
		return nil, fmt.Errorf("file name is required: %w", core.ErrValidation)
	}
	if len(upload.Data) == 0 {
		return nil, fmt.Errorf("file is empty: %w", core.ErrValidation)
	}

	category = strings.TrimSpace(category)
	if category == "" {
		r.mu.Lock()
		category = r.target
		r.mu.Unlock()
	}

	mt := mimetype.Detect(upload.Data)
	key := objectKey(upload.Filename, mt)
	log := r.log.WithFields(logrus.Fields{"key": key, "category": category, "size": len(upload.Data)})

	if err := r.objects.Put(ctx, key, mt.String(), upload.Data); err != nil {
		log.WithError(err).Error("Failed to upload asset content")
		return nil, err
	}

	asset := &core.Asset{
		Name:     assetName(upload.Filename),
		Category: category,
		URL:      r.objects.PublicURL(key),
		Owner:    r.user,
	}
	// TODO: periodic sweep of object keys with no asset row.
	if err := r.assets.InsertAsset(ctx, asset); err != nil {
		log.WithError(err).WithField("orphan", core.ErrOrphanedResource.Error()).Error("Asset record insert failed after upload")
		return nil, err
	}

	log.WithField("asset_id", asset.ID).Info("Asset uploaded")
	r.Refresh(ctx)
	return asset, nil
}

// Filter returns the cached assets of category whose name contains term.
// The match is case-sensitive and does not touch the store.
func (r *Reconciler) Filter(category, term string) []core.Asset {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := r.cache.filter(category, term)
	out := make([]core.Asset, 0, len(matches))
	for _, a := range matches {
		out = append(out, *a)
	}
	return out
}

func (r *Reconciler) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		Categories:   make([]CategoryView, 0, len(r.cache.order)),
		Selected:     r.selected,
		UploadTarget: r.target,
	}
	for _, label := range r.cache.order {
		b := r.cache.buckets[label]
		v.Categories = append(v.Categories, CategoryView{Label: label, State: b.state, Count: len(b.assets)})
	}
	return v
}
