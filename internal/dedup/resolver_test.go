package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shantanudwvd/File-Vault/internal/repository"
)

// countingRepo counts FindCanonical calls and can be made to fail.
type countingRepo struct {
	*repository.MemoryRepo
	finds atomic.Int32
	fail  error
}

func (c *countingRepo) FindCanonical(ctx context.Context, fp string) (*repository.FileRecord, error) {
	c.finds.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.MemoryRepo.FindCanonical(ctx, fp)
}

func seed(t *testing.T, repo repository.Repository, id, fp string) *repository.FileRecord {
	t.Helper()
	rec := &repository.FileRecord{
		ID:                 id,
		StoredPayloadRef:   "ref-" + fp,
		OriginalName:       id,
		MediaType:          "text/plain",
		SizeBytes:          5,
		ContentFingerprint: fp,
		CreatedAt:          time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return rec
}

func TestResolveNoCanonical(t *testing.T) {
	r, err := NewResolver(repository.NewMemoryRepo(), 0)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	res, err := r.Resolve(context.Background(), "fp")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.IsDuplicate || res.Canonical != nil {
		t.Errorf("Resolve = %+v, want canonical outcome", res)
	}
}

func TestResolveDuplicate(t *testing.T) {
	repo := repository.NewMemoryRepo()
	orig := seed(t, repo, "a", "fp")
	r, _ := NewResolver(repo, 0)

	res, err := r.Resolve(context.Background(), "fp")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.IsDuplicate || res.Canonical == nil || res.Canonical.ID != orig.ID {
		t.Fatalf("Resolve = %+v, want duplicate of %s", res, orig.ID)
	}
	if res.Canonical.StoredPayloadRef != orig.StoredPayloadRef {
		t.Errorf("payload ref = %s, want %s", res.Canonical.StoredPayloadRef, orig.StoredPayloadRef)
	}
}

func TestResolveCache(t *testing.T) {
	repo := &countingRepo{MemoryRepo: repository.NewMemoryRepo()}
	seed(t, repo, "a", "fp")
	r, _ := NewResolver(repo, 8)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, "fp"); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if n := repo.finds.Load(); n != 1 {
		t.Errorf("store lookups = %d, want 1", n)
	}

	r.Forget("fp")
	if _, err := r.Resolve(ctx, "fp"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n := repo.finds.Load(); n != 2 {
		t.Errorf("store lookups after Forget = %d, want 2", n)
	}

	// Misses are not cached: the next canonical must be seen immediately.
	if res, _ := r.Resolve(ctx, "new"); res.IsDuplicate {
		t.Fatal("unexpected duplicate")
	}
	rec := seed(t, repo, "b", "new")
	r.Remember(rec)
	before := repo.finds.Load()
	res, err := r.Resolve(ctx, "new")
	if err != nil || !res.IsDuplicate || res.Canonical.ID != "b" {
		t.Fatalf("Resolve after Remember = %+v, %v", res, err)
	}
	if repo.finds.Load() != before {
		t.Error("Remember did not populate the cache")
	}
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	repo := &countingRepo{MemoryRepo: repository.NewMemoryRepo(), fail: repository.ErrStoreUnavailable}
	r, _ := NewResolver(repo, 0)

	_, err := r.Resolve(context.Background(), "fp")
	if !errors.Is(err, repository.ErrStoreUnavailable) {
		t.Fatalf("Resolve: got %v, want ErrStoreUnavailable", err)
	}
}

func TestLockerSerialisesKey(t *testing.T) {
	l := NewLocker()
	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		overlap atomic.Bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("fp")
			defer unlock()
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if overlap.Load() {
		t.Error("two holders inside the same key section")
	}
	if n := l.held(); n != 0 {
		t.Errorf("%d keys still tracked after all unlocks", n)
	}
}

func TestLockerIndependentKeys(t *testing.T) {
	l := NewLocker()
	unlockA := l.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		unlock() // second call is a no-op
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}
