package update

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"updatecheck/internal/debug"
	appErrors "updatecheck/internal/errors"
	"updatecheck/internal/state"

	"github.com/charmbracelet/log"
)

// fakeFetcher counts calls and returns a canned record or error. When block
// is set, Fetch waits for it to close first.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	rec     ManifestRecord
	err     error
	block   chan struct{}
	ctxErrs []error
}

func (f *fakeFetcher) Fetch(ctx context.Context, project string, timeout time.Duration) (ManifestRecord, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return f.rec, f.err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingLocker struct {
	mu      sync.Mutex
	locks   int
	unlocks int
	err     error
}

func (l *countingLocker) Lock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.locks++
	return nil
}

func (l *countingLocker) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocks++
	return nil
}

func newTestStore(t *testing.T) *state.FileStore {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "last_check.json"), state.WithLogger(debug.Discard()))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func mustLoad(t *testing.T, store state.Store) state.Record {
	t.Helper()
	rec, err := store.Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return rec
}

var newerManifest = ManifestRecord{
	LatestVersion:  "2.1.0_beta",
	LastUpdateDate: "2025-02-01",
	RepoURL:        "https://github.com/example/tool",
	Note:           "Breaking change in config format",
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Idle, "idle"},
		{Throttled, "throttled"},
		{Checking, "checking"},
		{Succeeded, "succeeded"},
		{Failed, "failed"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestOrchestratorFirstRunPersistsManifest(t *testing.T) {
	store := newTestStore(t)
	clock := newTestClock()
	fetcher := &fakeFetcher{rec: newerManifest}
	o := NewOrchestrator(store, fetcher, WithClock(clock.Now), WithLogger(debug.Discard()))

	got, err := o.Run(context.Background(), Request{Project: "tool", LocalVersion: "2.0.9", Frequency: state.Days(30)})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got != Succeeded {
		t.Fatalf("Run() = %s, want %s", got, Succeeded)
	}

	rec := mustLoad(t, store)
	if rec.Version() != "2.1.0_beta" {
		t.Errorf("cached version = %q, want 2.1.0_beta", rec.Version())
	}
	if rec.LastCheckTimestamp != state.UnixSeconds(clock.Now()) {
		t.Errorf("timestamp = %v, want %v", rec.LastCheckTimestamp, state.UnixSeconds(clock.Now()))
	}
	if rec.LastCheckHumanReadable == "" {
		t.Error("human readable timestamp should be set")
	}
	if rec.ProjectName != "tool" || rec.RepoURL != newerManifest.RepoURL ||
		rec.LastUpdateDate != newerManifest.LastUpdateDate || rec.Note != newerManifest.Note {
		t.Errorf("manifest fields not persisted: %+v", rec)
	}
	if rec.Frequency != state.Days(30) {
		t.Errorf("frequency = %v, want 30", rec.Frequency)
	}
}

func TestOrchestratorThrottle(t *testing.T) {
	tests := []struct {
		name      string
		frequency state.Frequency
		advance   time.Duration
		wantState State
		wantCalls int
	}{
		{"within window", state.Days(30), 29 * 24 * time.Hour, Throttled, 1},
		{"window elapsed", state.Days(30), 30 * 24 * time.Hour, Succeeded, 2},
		{"always within a second", state.Always, 500 * time.Millisecond, Throttled, 1},
		{"always after a second", state.Always, 2 * time.Second, Succeeded, 2},
		{"zero days", state.Days(0), 0, Succeeded, 2},
		{"day count beyond duration range", state.Days(200000), 365 * 24 * time.Hour, Throttled, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			clock := newTestClock()
			fetcher := &fakeFetcher{rec: newerManifest}
			o := NewOrchestrator(store, fetcher, WithClock(clock.Now), WithLogger(debug.Discard()))
			req := Request{Project: "tool", LocalVersion: "1.0.0", Frequency: tt.frequency}

			if _, err := o.Run(context.Background(), req); err != nil {
				t.Fatalf("first Run() error: %v", err)
			}
			before, err := os.ReadFile(store.Location())
			if err != nil {
				t.Fatal(err)
			}

			clock.Advance(tt.advance)
			got, err := o.Run(context.Background(), req)
			if err != nil {
				t.Fatalf("second Run() error: %v", err)
			}
			if got != tt.wantState {
				t.Errorf("second Run() = %s, want %s", got, tt.wantState)
			}
			if calls := fetcher.Calls(); calls != tt.wantCalls {
				t.Errorf("fetch calls = %d, want %d", calls, tt.wantCalls)
			}

			if tt.wantState == Throttled {
				after, err := os.ReadFile(store.Location())
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(before, after) {
					t.Error("throttled run must not write the cache")
				}
			}
		})
	}
}

func TestOrchestratorFailurePersistsSentinel(t *testing.T) {
	store := newTestStore(t)
	clock := newTestClock()
	var logs bytes.Buffer
	fetchErr := appErrors.New(appErrors.CodeNetworkUnreachable, "fetch manifest: unreachable", ErrNetworkFailure)
	fetcher := &fakeFetcher{err: fetchErr}
	o := NewOrchestrator(store, fetcher, WithClock(clock.Now), WithLogger(debug.New(&logs, log.DebugLevel)))

	// Seed a successful record so we can see it replaced.
	if err := store.Save(state.Record{
		LastCheckTimestamp: state.UnixSeconds(clock.Now().Add(-40 * 24 * time.Hour)),
		LatestVersion:      state.StringPtr("1.5.0"),
		RepoURL:            "https://old.example",
		ProjectName:        "tool",
	}); err != nil {
		t.Fatal(err)
	}

	req := Request{Project: "tool", LocalVersion: "1.0.0", Frequency: state.Days(30)}
	got, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got != Failed {
		t.Fatalf("Run() = %s, want %s", got, Failed)
	}

	rec := mustLoad(t, store)
	if !rec.Failed() {
		t.Fatalf("expected %q sentinel, got %v", state.UnreachableVersion, rec.LatestVersion)
	}
	if rec.RepoURL != "" || rec.LastUpdateDate != "" || rec.Note != "" {
		t.Errorf("metadata should be cleared on failure: %+v", rec)
	}
	if rec.LastCheckTimestamp != state.UnixSeconds(clock.Now()) {
		t.Error("failure must still advance the throttle clock")
	}
	if !bytes.Contains(logs.Bytes(), []byte("network_unreachable")) {
		t.Errorf("expected failure diagnostic, got %q", logs.String())
	}

	// The failed check throttles like a successful one.
	clock.Advance(time.Hour)
	if got, _ := o.Run(context.Background(), req); got != Throttled {
		t.Errorf("Run() after failure = %s, want %s", got, Throttled)
	}
	if calls := fetcher.Calls(); calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}
}

func TestOrchestratorTimestampNeverMovesBackwards(t *testing.T) {
	store := newTestStore(t)
	clock := newTestClock()
	future := state.UnixSeconds(clock.Now().Add(time.Hour))
	if err := store.Save(state.Record{
		LastCheckTimestamp:     future,
		LastCheckHumanReadable: "later",
		LatestVersion:          state.StringPtr("9.9.9"),
		ProjectName:            "other",
	}); err != nil {
		t.Fatal(err)
	}

	o := NewOrchestrator(store, &fakeFetcher{rec: newerManifest}, WithClock(clock.Now), WithLogger(debug.Discard()))
	got, err := o.Run(context.Background(), Request{Project: "tool", LocalVersion: "1.0.0", Frequency: state.Days(30)})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got != Succeeded {
		t.Fatalf("a record for another project must not throttle, got %s", got)
	}

	rec := mustLoad(t, store)
	if rec.LastCheckTimestamp != future {
		t.Errorf("timestamp = %v, want it held at %v", rec.LastCheckTimestamp, future)
	}
	if rec.ProjectName != "tool" {
		t.Errorf("project = %q, want tool", rec.ProjectName)
	}
}

func TestOrchestratorHoldsLock(t *testing.T) {
	store := newTestStore(t)
	locker := &countingLocker{}
	o := NewOrchestrator(store, &fakeFetcher{rec: newerManifest}, WithLocker(locker), WithLogger(debug.Discard()))

	if _, err := o.Run(context.Background(), Request{Project: "tool", LocalVersion: "1.0.0", Frequency: state.Days(1)}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if locker.locks != 1 || locker.unlocks != 1 {
		t.Errorf("locks = %d, unlocks = %d; want 1 each", locker.locks, locker.unlocks)
	}
}

func TestOrchestratorLockFailure(t *testing.T) {
	store := newTestStore(t)
	fetcher := &fakeFetcher{rec: newerManifest}
	o := NewOrchestrator(store, fetcher, WithLocker(&countingLocker{err: errors.New("busy")}), WithLogger(debug.Discard()))

	got, err := o.Run(context.Background(), Request{Project: "tool", LocalVersion: "1.0.0"})
	if got != Idle || !appErrors.IsCode(err, appErrors.CodeStateIO) {
		t.Fatalf("Run() = %s, %v; want idle with state_io error", got, err)
	}
	if fetcher.Calls() != 0 {
		t.Error("fetcher must not run without the lock")
	}
	if _, err := os.Stat(store.Location()); !os.IsNotExist(err) {
		t.Error("cache must not be touched without the lock")
	}
}

func TestOrchestratorCorruptSQLiteStillThrottles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_check.db")
	if err := os.WriteFile(path, bytes.Repeat([]byte("garbage "), 128), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := state.NewSQLiteStore(path, state.WithLogger(debug.Discard()))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	clock := newTestClock()
	fetcher := &fakeFetcher{rec: newerManifest}
	o := NewOrchestrator(store, fetcher, WithClock(clock.Now), WithLogger(debug.Discard()))
	req := Request{Project: "tool", LocalVersion: "1.0.0", Frequency: state.Days(30)}

	got, err := o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if got != Succeeded {
		t.Fatalf("first Run() = %s, want %s", got, Succeeded)
	}

	clock.Advance(time.Hour)
	got, err = o.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if got != Throttled {
		t.Errorf("second Run() = %s, want %s", got, Throttled)
	}
	if calls := fetcher.Calls(); calls != 1 {
		t.Errorf("fetch calls = %d, want 1", calls)
	}
}

// readOnlyStore loads normally but refuses every Save.
type readOnlyStore struct {
	*state.FileStore
}

func (readOnlyStore) Save(state.Record) error {
	return appErrors.New(appErrors.CodeStateIO, "write last_check.json", errors.New("read-only file system"))
}

func TestOrchestratorSaveFailureIsIdle(t *testing.T) {
	tests := []struct {
		name  string
		fetch *fakeFetcher
	}{
		{"fetch succeeded", &fakeFetcher{rec: newerManifest}},
		{"fetch failed", &fakeFetcher{err: ErrNetworkFailure}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := readOnlyStore{newTestStore(t)}
			o := NewOrchestrator(store, tt.fetch, WithLocker(&countingLocker{}), WithLogger(debug.Discard()))

			got, err := o.Run(context.Background(), Request{Project: "tool", LocalVersion: "1.0.0", Frequency: state.Days(30)})
			if !appErrors.IsCode(err, appErrors.CodeStateIO) {
				t.Fatalf("Run() error = %v, want state_io", err)
			}
			if got != Idle {
				t.Errorf("Run() = %s, want %s", got, Idle)
			}
		})
	}
}
