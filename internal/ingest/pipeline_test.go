package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/shantanudwvd/File-Vault/internal/blobstore"
	"github.com/shantanudwvd/File-Vault/internal/dedup"
	"github.com/shantanudwvd/File-Vault/internal/hasher"
	"github.com/shantanudwvd/File-Vault/internal/repository"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, repo repository.Repository) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	resolver, err := dedup.NewResolver(repo, 16)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	h, err := hasher.New(hasher.SHA256)
	if err != nil {
		t.Fatalf("hasher.New: %v", err)
	}
	return New(repo, resolver, blobs, h, testLogger()), dir
}

// payloads lists committed payload files, ignoring the staging area.
func payloads(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == ".staging" {
			return filepath.SkipDir
		}
		if !d.IsDir() {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	return out
}

func staging(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, ".staging"))
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	return entries
}

func ingest(t *testing.T, p *Pipeline, name, body string) *repository.FileRecord {
	t.Helper()
	rec, err := p.Ingest(context.Background(), Upload{Body: strings.NewReader(body), Name: name})
	if err != nil {
		t.Fatalf("Ingest(%s): %v", name, err)
	}
	return rec
}

func content(t *testing.T, p *Pipeline, id string) string {
	t.Helper()
	_, body, err := p.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open(%s): %v", id, err)
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	return string(b)
}

func TestIngestFirstUploadIsCanonical(t *testing.T) {
	p, dir := newPipeline(t, repository.NewMemoryRepo())

	rec, err := p.Ingest(context.Background(), Upload{
		Body:      strings.NewReader("hello"),
		Name:      "a.txt",
		MediaType: "text/plain",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if rec.IsDuplicate || rec.CanonicalRef != nil {
		t.Errorf("first upload marked duplicate: %+v", rec)
	}
	if rec.SizeBytes != 5 {
		t.Errorf("size = %d, want 5", rec.SizeBytes)
	}
	if rec.ContentFingerprint != helloSHA256 {
		t.Errorf("fingerprint = %s", rec.ContentFingerprint)
	}
	if rec.ID == "" || rec.StoredPayloadRef == "" {
		t.Errorf("id or payload ref missing: %+v", rec)
	}
	if rec.CreatedAt.Location().String() != "UTC" {
		t.Errorf("created_at not UTC: %v", rec.CreatedAt)
	}
	if got := len(payloads(t, dir)); got != 1 {
		t.Errorf("payloads = %d, want 1", got)
	}
	if got := len(staging(t, dir)); got != 0 {
		t.Errorf("staging not cleaned: %d entries", got)
	}
	if got := content(t, p, rec.ID); got != "hello" {
		t.Errorf("payload = %q", got)
	}
}

func TestIngestDuplicateSharesPayload(t *testing.T) {
	p, dir := newPipeline(t, repository.NewMemoryRepo())

	first := ingest(t, p, "a.txt", "hello")
	second := ingest(t, p, "b.txt", "hello")

	if !second.IsDuplicate {
		t.Fatal("second upload not marked duplicate")
	}
	if second.CanonicalRef == nil || *second.CanonicalRef != first.ID {
		t.Errorf("canonical ref = %v, want %s", second.CanonicalRef, first.ID)
	}
	if second.StoredPayloadRef != first.StoredPayloadRef {
		t.Errorf("payload ref = %s, want %s", second.StoredPayloadRef, first.StoredPayloadRef)
	}
	if second.ID == first.ID {
		t.Error("duplicate reused canonical id")
	}
	if got := len(payloads(t, dir)); got != 1 {
		t.Errorf("payloads = %d, want 1", got)
	}
	if got := len(staging(t, dir)); got != 0 {
		t.Errorf("staging not cleaned: %d entries", got)
	}
	if got := content(t, p, second.ID); got != "hello" {
		t.Errorf("duplicate payload = %q", got)
	}

	third := ingest(t, p, "c.txt", "world")
	if third.IsDuplicate {
		t.Error("different content marked duplicate")
	}
	if got := len(payloads(t, dir)); got != 2 {
		t.Errorf("payloads = %d, want 2", got)
	}
}

func TestIngestSniffsMediaType(t *testing.T) {
	p, _ := newPipeline(t, repository.NewMemoryRepo())

	rec := ingest(t, p, "page", "<html><body>hi</body></html>")
	if !strings.HasPrefix(rec.MediaType, "text/html") {
		t.Errorf("media type = %q, want text/html", rec.MediaType)
	}
}

func TestIngestEmpty(t *testing.T) {
	p, dir := newPipeline(t, repository.NewMemoryRepo())
	ctx := context.Background()

	if _, err := p.Ingest(ctx, Upload{Name: "nil"}); !errors.Is(err, ErrEmptyUpload) {
		t.Errorf("nil body: got %v, want ErrEmptyUpload", err)
	}
	if _, err := p.Ingest(ctx, Upload{Body: strings.NewReader(""), Name: "zero"}); !errors.Is(err, ErrEmptyUpload) {
		t.Errorf("zero bytes: got %v, want ErrEmptyUpload", err)
	}

	recs, _ := p.List(ctx, repository.Filter{})
	if len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
	if got := len(staging(t, dir)) + len(payloads(t, dir)); got != 0 {
		t.Errorf("leftover files: %d", got)
	}
}

type brokenReader struct{ sent bool }

func (r *brokenReader) Read(b []byte) (int, error) {
	if r.sent {
		return 0, io.ErrUnexpectedEOF
	}
	r.sent = true
	return copy(b, "partial"), nil
}

func TestIngestReadErrorPersistsNothing(t *testing.T) {
	p, dir := newPipeline(t, repository.NewMemoryRepo())

	_, err := p.Ingest(context.Background(), Upload{Body: &brokenReader{}, Name: "broken"})
	var re *hasher.ReadError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want *hasher.ReadError", err)
	}

	recs, _ := p.List(context.Background(), repository.Filter{})
	if len(recs) != 0 {
		t.Errorf("records = %d, want 0", len(recs))
	}
	if got := len(staging(t, dir)) + len(payloads(t, dir)); got != 0 {
		t.Errorf("leftover files: %d", got)
	}
}

// failingRepo fails every Create with the store unavailable.
type failingRepo struct {
	*repository.MemoryRepo
}

func (failingRepo) Create(context.Context, *repository.FileRecord) error {
	return errors.New("connection refused")
}

func TestIngestStoreUnavailableReleasesPayload(t *testing.T) {
	p, dir := newPipeline(t, failingRepo{repository.NewMemoryRepo()})

	_, err := p.Ingest(context.Background(), Upload{Body: strings.NewReader("hello"), Name: "a"})
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		t.Fatalf("got %v, want ErrStoreUnavailable", err)
	}
	if got := len(staging(t, dir)) + len(payloads(t, dir)); got != 0 {
		t.Errorf("leftover files: %d", got)
	}
}

// blindRepo fails every write and every payload reference count.
type blindRepo struct {
	failingRepo
}

func (blindRepo) CountByPayloadRef(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestIngestKeepsPayloadWhenRefCountFails(t *testing.T) {
	p, dir := newPipeline(t, blindRepo{failingRepo{repository.NewMemoryRepo()}})
	var logs bytes.Buffer
	p.logger = slog.New(slog.NewTextHandler(&logs, nil))

	_, err := p.Ingest(context.Background(), Upload{Body: strings.NewReader("hello"), Name: "a"})
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		t.Fatalf("got %v, want ErrStoreUnavailable", err)
	}
	if got := len(payloads(t, dir)); got != 1 {
		t.Errorf("payloads = %d, want 1 kept", got)
	}
	out := logs.String()
	if !strings.Contains(out, "payload kept after failed ingest") {
		t.Errorf("no warning logged: %q", out)
	}
	key, _ := blobstore.Key(helloSHA256)
	if !strings.Contains(out, key) {
		t.Errorf("warning does not name ref %s: %q", key, out)
	}
}

// hidingRepo misses the canonical on the first lookup, as if another
// process inserted it between resolve and persist.
type hidingRepo struct {
	*repository.MemoryRepo
	mu     sync.Mutex
	hidden bool
}

func (h *hidingRepo) FindCanonical(ctx context.Context, fp string) (*repository.FileRecord, error) {
	h.mu.Lock()
	hide := !h.hidden
	h.hidden = true
	h.mu.Unlock()
	if hide {
		return nil, repository.ErrNotFound
	}
	return h.MemoryRepo.FindCanonical(ctx, fp)
}

func TestIngestLosingCanonicalRaceBecomesDuplicate(t *testing.T) {
	repo := &hidingRepo{MemoryRepo: repository.NewMemoryRepo(), hidden: true}
	p, dir := newPipeline(t, repo)

	first := ingest(t, p, "a", "hello")

	repo.mu.Lock()
	repo.hidden = false
	repo.mu.Unlock()
	p.resolver.Forget(first.ContentFingerprint)

	second := ingest(t, p, "b", "hello")
	if !second.IsDuplicate || *second.CanonicalRef != first.ID {
		t.Fatalf("second = %+v, want duplicate of %s", second, first.ID)
	}
	if got := len(payloads(t, dir)); got != 1 {
		t.Errorf("payloads = %d, want 1", got)
	}
}

func TestIngestStaleCanonicalReResolves(t *testing.T) {
	repo := repository.NewMemoryRepo()
	p, _ := newPipeline(t, repo)

	first := ingest(t, p, "a", "hello")
	// Delete behind the pipeline's back; the resolver cache still holds it.
	if _, err := repo.Delete(context.Background(), first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	second := ingest(t, p, "b", "hello")
	if second.IsDuplicate {
		t.Fatalf("second = %+v, want canonical", second)
	}
	if got := content(t, p, second.ID); got != "hello" {
		t.Errorf("payload = %q", got)
	}
}

func TestIngestConcurrentSameContent(t *testing.T) {
	p, dir := newPipeline(t, repository.NewMemoryRepo())
	const n = 24

	var wg sync.WaitGroup
	recs := make([]*repository.FileRecord, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs[i], errs[i] = p.Ingest(context.Background(), Upload{
				Body: strings.NewReader("same bytes"),
				Name: "f",
			})
		}(i)
	}
	wg.Wait()

	var canonical *repository.FileRecord
	for i, err := range errs {
		if err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
		if !recs[i].IsDuplicate {
			if canonical != nil {
				t.Fatalf("two canonicals: %s and %s", canonical.ID, recs[i].ID)
			}
			canonical = recs[i]
		}
	}
	if canonical == nil {
		t.Fatal("no canonical record")
	}
	for _, rec := range recs {
		if rec.IsDuplicate && *rec.CanonicalRef != canonical.ID {
			t.Errorf("duplicate %s references %s, want %s", rec.ID, *rec.CanonicalRef, canonical.ID)
		}
	}
	if got := len(payloads(t, dir)); got != 1 {
		t.Errorf("payloads = %d, want 1", got)
	}
	if got := len(staging(t, dir)); got != 0 {
		t.Errorf("staging not cleaned: %d entries", got)
	}
}

func TestDeleteCanonicalClearsReferences(t *testing.T) {
	p, dir := newPipeline(t, repository.NewMemoryRepo())
	ctx := context.Background()

	first := ingest(t, p, "a", "hello")
	dup := ingest(t, p, "b", "hello")

	if _, err := p.Delete(ctx, first.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := p.Get(ctx, first.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Get deleted: got %v, want ErrNotFound", err)
	}

	got, err := p.Get(ctx, dup.ID)
	if err != nil {
		t.Fatalf("Get dup: %v", err)
	}
	if got.CanonicalRef != nil {
		t.Errorf("canonical ref not cleared: %v", *got.CanonicalRef)
	}
	if !got.IsDuplicate {
		t.Error("duplicate flag changed on delete")
	}
	// The duplicate still shares the payload.
	if c := content(t, p, dup.ID); c != "hello" {
		t.Errorf("payload after canonical delete = %q", c)
	}

	next := ingest(t, p, "c", "hello")
	if next.IsDuplicate {
		t.Error("upload after canonical delete should be canonical")
	}
	if got := len(payloads(t, dir)); got != 1 {
		t.Errorf("payloads = %d, want 1", got)
	}

	for _, id := range []string{dup.ID, next.ID} {
		if _, err := p.Delete(ctx, id); err != nil {
			t.Fatalf("Delete %s: %v", id, err)
		}
	}
	if got := len(payloads(t, dir)); got != 0 {
		t.Errorf("payload kept after last record deleted: %d", got)
	}
}

func TestDeleteUnknown(t *testing.T) {
	p, _ := newPipeline(t, repository.NewMemoryRepo())

	if _, err := p.Delete(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
