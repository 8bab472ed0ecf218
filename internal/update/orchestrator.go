package update

import (
	"context"
	"fmt"
	"time"

	"updatecheck/internal/debug"
	appErrors "updatecheck/internal/errors"
	"updatecheck/internal/state"

	"github.com/charmbracelet/log"
)

// State is where a single orchestrated check ended up.
type State int

const (
	// Idle means no check has run (or the cache could not be opened).
	Idle State = iota
	// Throttled means the cached record is recent enough; nothing was fetched.
	Throttled
	// Checking is the state while the manifest fetch is in flight.
	Checking
	// Succeeded means the manifest was fetched and persisted.
	Succeeded
	// Failed means the fetch failed and the unreachable sentinel was persisted.
	Failed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Throttled:
		return "throttled"
	case Checking:
		return "checking"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Request describes one check.
type Request struct {
	Project      string
	LocalVersion string
	Frequency    state.Frequency
}

// Option configures an Orchestrator or a Checker.
type Option func(*settings)

type settings struct {
	logger      *log.Logger
	lock        state.Locker
	now         func() time.Time
	timeout     time.Duration
	waitTimeout time.Duration
}

// WithLogger routes diagnostics to logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithLocker replaces the default advisory lock on the state location.
func WithLocker(l state.Locker) Option {
	return func(s *settings) {
		s.lock = l
	}
}

// WithClock sets the time source used for throttling and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithTimeout bounds each manifest request.
func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.timeout = timeout
	}
}

// WithWaitTimeout bounds how long Checker.Check waits for the background
// check. Zero returns the cached verdict immediately.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.waitTimeout = timeout
	}
}

func buildSettings(store state.Store, opts []Option) settings {
	s := settings{
		now:         time.Now,
		timeout:     DefaultTimeout,
		waitTimeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = debug.Logger()
	}
	if s.lock == nil {
		s.lock = state.NewFileLock(state.LockPath(store.Location()))
	}
	return s
}

// Orchestrator runs the throttled fetch-and-persist cycle under a lock.
type Orchestrator struct {
	store      state.Store
	fetcher    Fetcher
	comparator *Comparator
	lock       state.Locker
	logger     *log.Logger
	now        func() time.Time
	timeout    time.Duration
}

// NewOrchestrator creates an orchestrator over store and fetcher. Unless
// WithLocker is given, runs are serialized by an advisory lock next to the
// store's location, which also excludes other processes.
func NewOrchestrator(store state.Store, fetcher Fetcher, opts ...Option) *Orchestrator {
	return newOrchestrator(store, fetcher, buildSettings(store, opts))
}

func newOrchestrator(store state.Store, fetcher Fetcher, s settings) *Orchestrator {
	return &Orchestrator{
		store:      store,
		fetcher:    fetcher,
		comparator: NewComparator(s.logger),
		lock:       s.lock,
		logger:     s.logger,
		now:        s.now,
		timeout:    s.timeout,
	}
}

// Run performs one check. Fetch failures are not errors: they are persisted
// as the unreachable sentinel and reported as Failed. The returned error is
// non-nil only when the lock or the store could not be used, and the state
// is then Idle.
func (o *Orchestrator) Run(ctx context.Context, req Request) (State, error) {
	if err := o.lock.Lock(); err != nil {
		return Idle, appErrors.New(appErrors.CodeStateIO, "acquire state lock", err)
	}
	defer func() {
		if err := o.lock.Unlock(); err != nil {
			o.logger.Warn("release state lock", "err", err)
		}
	}()

	rec, err := o.store.Load(true)
	if err != nil {
		return Idle, err
	}

	now := o.now()
	if o.throttled(rec, req, now) {
		o.logger.Debug("update check throttled",
			"project", req.Project,
			"last_check", rec.LastCheckHumanReadable,
			"frequency", req.Frequency.String())
		return Throttled, nil
	}

	o.logger.Debug("update check starting", "project", req.Project, "state", Checking)
	manifest, fetchErr := o.fetcher.Fetch(ctx, req.Project, o.timeout)

	next := state.Record{
		Frequency:   req.Frequency,
		ProjectName: req.Project,
	}
	stampMonotonic(&next, rec, now)

	result := Succeeded
	if fetchErr != nil {
		o.logger.Warn("update check failed", append(appErrors.Fields(fetchErr), "project", req.Project)...)
		next.LatestVersion = state.StringPtr(state.UnreachableVersion)
		result = Failed
	} else {
		next.LatestVersion = state.StringPtr(manifest.LatestVersion)
		next.LastUpdateDate = manifest.LastUpdateDate
		next.RepoURL = manifest.RepoURL
		next.Note = manifest.Note
		o.logger.Debug("manifest fetched",
			"project", req.Project,
			"latest", manifest.LatestVersion,
			"local", req.LocalVersion,
			"newer", o.comparator.IsNewer(manifest.LatestVersion, req.LocalVersion))
	}

	if err := o.store.Save(next); err != nil {
		return Idle, err
	}
	return result, nil
}

// throttled reports whether rec is recent enough to skip the network. A
// record written for a different project never throttles.
func (o *Orchestrator) throttled(rec state.Record, req Request, now time.Time) bool {
	if rec.LastCheckTimestamp <= 0 {
		return false
	}
	if rec.ProjectName != "" && rec.ProjectName != req.Project {
		return false
	}
	return now.Sub(rec.LastCheck()) < req.Frequency.Threshold()
}

// stampMonotonic stamps next with now, never moving backwards past prev.
func stampMonotonic(next *state.Record, prev state.Record, now time.Time) {
	next.Stamp(now)
	if next.LastCheckTimestamp < prev.LastCheckTimestamp {
		next.LastCheckTimestamp = prev.LastCheckTimestamp
		next.LastCheckHumanReadable = prev.LastCheckHumanReadable
	}
}
