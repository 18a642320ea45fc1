package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"github.com/shantanudwvd/File-Vault/internal/ingest"
	"github.com/shantanudwvd/File-Vault/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeIngester records what it read and tracks concurrency.
type fakeIngester struct {
	mu      sync.Mutex
	bodies  map[string]string
	active  atomic.Int32
	maxSeen atomic.Int32
	release chan struct{}
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{bodies: make(map[string]string)}
}

func (f *fakeIngester) Ingest(_ context.Context, up ingest.Upload) (*repository.FileRecord, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.release != nil {
		<-f.release
	}

	b, err := io.ReadAll(up.Body)
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, ingest.ErrEmptyUpload
	}
	f.mu.Lock()
	f.bodies[up.Name] = string(b)
	f.mu.Unlock()
	return &repository.FileRecord{ID: "id-" + up.Name, OriginalName: up.Name, SizeBytes: int64(len(b))}, nil
}

func opener(s string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(s)), nil }
}

func TestPoolProcessesAllJobs(t *testing.T) {
	ing := newFakeIngester()
	p := NewPool(3, ing, testLogger())
	p.Start()
	defer p.Shutdown()

	names := []string{"a", "b", "c", "d", "e", "f", "g"}
	reply := make(chan Result, len(names))
	for i, name := range names {
		if !p.Submit(Job{Ctx: context.Background(), Index: i, Name: name, Open: opener("body-" + name), Reply: reply}) {
			t.Fatalf("Submit %s rejected", name)
		}
	}

	seen := make(map[int]bool)
	for range names {
		res := <-reply
		if res.Err != nil {
			t.Errorf("job %d: %v", res.Index, res.Err)
			continue
		}
		if res.Record.OriginalName != names[res.Index] {
			t.Errorf("job %d returned record for %s", res.Index, res.Record.OriginalName)
		}
		seen[res.Index] = true
	}
	if len(seen) != len(names) {
		t.Errorf("results for %d jobs, want %d", len(seen), len(names))
	}
	if got := ing.bodies["c"]; got != "body-c" {
		t.Errorf("body read for c = %q", got)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	ing := newFakeIngester()
	ing.release = make(chan struct{})
	p := NewPool(2, ing, testLogger())
	p.Start()

	const jobs = 6
	reply := make(chan Result, jobs)
	go func() {
		for i := 0; i < jobs; i++ {
			p.Submit(Job{Index: i, Name: "f", Open: opener("x"), Reply: reply})
		}
	}()
	for i := 0; i < jobs; i++ {
		ing.release <- struct{}{}
	}
	for i := 0; i < jobs; i++ {
		<-reply
	}
	p.Shutdown()

	if m := ing.maxSeen.Load(); m > 2 {
		t.Errorf("max concurrent ingests = %d, want <= 2", m)
	}
}

func TestPoolReportsErrors(t *testing.T) {
	p := NewPool(1, newFakeIngester(), testLogger())
	p.Start()
	defer p.Shutdown()

	openErr := errors.New("spool gone")
	reply := make(chan Result, 3)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	p.Submit(Job{Index: 0, Name: "empty", Open: opener(""), Reply: reply})
	p.Submit(Job{Index: 1, Name: "bad", Open: func() (io.ReadCloser, error) { return nil, openErr }, Reply: reply})

	got := map[int]error{}
	for i := 0; i < 2; i++ {
		res := <-reply
		got[res.Index] = res.Err
	}
	if !errors.Is(got[0], ingest.ErrEmptyUpload) {
		t.Errorf("empty job: got %v", got[0])
	}
	if !errors.Is(got[1], openErr) {
		t.Errorf("open failure: got %v", got[1])
	}

	if p.Submit(Job{Ctx: cancelled, Index: 2, Name: "late", Open: opener("x"), Reply: reply}) {
		// Accepted before the context was noticed; the worker must still refuse it.
		if res := <-reply; !errors.Is(res.Err, context.Canceled) {
			t.Errorf("cancelled job: got %v", res.Err)
		}
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := NewPool(2, newFakeIngester(), testLogger())
	p.Start()
	p.Shutdown()
	p.Shutdown()

	if p.Submit(Job{Name: "late", Open: opener("x"), Reply: make(chan Result, 1)}) {
		t.Error("Submit accepted a job after Shutdown")
	}
}
