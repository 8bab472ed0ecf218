package update

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	appErrors "updatecheck/internal/errors"
	"updatecheck/internal/state"

	"github.com/charmbracelet/log"
)

// DefaultWaitTimeout is how long Check waits for a background check.
const DefaultWaitTimeout = 2 * time.Second

// Result is the verdict returned to the host.
type Result struct {
	UpdateAvailable bool
	// RemoteVersion is nil when the manifest was never consulted or the
	// last check failed.
	RemoteVersion *string
	ReleaseDate   string
	RepoURL       string
	Note          string
	// LastCheckFailed is set when the cached record carries the unreachable
	// sentinel.
	LastCheckFailed bool
	CheckedAt       time.Time
	// Message is the human-readable warning, set only when a warning was
	// requested and an update is available.
	Message string
}

// Checker is the entry point for the host program. Check never fails and
// never blocks longer than the wait timeout.
type Checker struct {
	store        state.Store
	orchestrator *Orchestrator
	comparator   *Comparator
	logger       *log.Logger
	waitTimeout  time.Duration

	wg sync.WaitGroup
}

// NewChecker creates a checker that caches results in store and consults
// the manifest through fetcher.
func NewChecker(store state.Store, fetcher Fetcher, opts ...Option) *Checker {
	s := buildSettings(store, opts)
	return &Checker{
		store:        store,
		orchestrator: newOrchestrator(store, fetcher, s),
		comparator:   NewComparator(s.logger),
		logger:       s.logger,
		waitTimeout:  s.waitTimeout,
	}
}

// Check starts a background check and returns the verdict from the cached
// record, refreshed with this run's result if it finishes within the wait
// timeout. Cancelling ctx ends the wait early but not the background check.
func (c *Checker) Check(ctx context.Context, project, localVersion string, frequency state.Frequency, emitWarning bool) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.fault(r)
			res = Result{}
		}
	}()

	// Skip check for development builds
	if isDevBuild(localVersion) {
		c.logger.Debug("skipping update check for development build", "version", localVersion)
		return Result{}
	}

	done := c.start(ctx, Request{Project: project, LocalVersion: localVersion, Frequency: frequency})

	res = c.verdict(c.load(), project, localVersion)
	if c.waitTimeout > 0 {
		timer := time.NewTimer(c.waitTimeout)
		defer timer.Stop()
		select {
		case <-done:
			res = c.verdict(c.load(), project, localVersion)
		case <-timer.C:
			c.logger.Debug("background update check still running, using cached result", "wait", c.waitTimeout)
		case <-ctx.Done():
		}
	}

	if emitWarning && res.UpdateAvailable {
		res.Message = FormatWarning(project, localVersion, res)
	}
	return res
}

// Wait blocks until every background check started by this checker has
// finished or ctx is done.
func (c *Checker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start launches the orchestrator. The returned channel closes when it ends.
func (c *Checker) start(ctx context.Context, req Request) <-chan struct{} {
	done := make(chan struct{})
	bg := context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				c.fault(r)
			}
		}()

		result, err := c.orchestrator.Run(bg, req)
		if err != nil {
			c.logger.Warn("background update check aborted", append(appErrors.Fields(err), "project", req.Project)...)
			return
		}
		c.logger.Debug("background update check finished", "project", req.Project, "state", result)
	}()
	return done
}

// load reads the cache outside the lock. Any failure reads as "never checked".
func (c *Checker) load() state.Record {
	rec, err := c.store.Load(false)
	if err != nil {
		c.logger.Warn("read cached update state", append(appErrors.Fields(err), "path", c.store.Location())...)
		return state.Default()
	}
	return rec
}

func (c *Checker) verdict(rec state.Record, project, localVersion string) Result {
	if !rec.Checked() {
		return Result{}
	}
	if rec.ProjectName != "" && rec.ProjectName != project {
		return Result{}
	}
	res := Result{CheckedAt: rec.LastCheck()}
	if rec.Failed() {
		res.LastCheckFailed = true
		return res
	}
	res.RemoteVersion = state.StringPtr(rec.Version())
	res.ReleaseDate = rec.LastUpdateDate
	res.RepoURL = rec.RepoURL
	res.Note = rec.Note
	res.UpdateAvailable = c.comparator.IsNewer(rec.Version(), localVersion)
	return res
}

func (c *Checker) fault(r any) {
	err := appErrors.New(appErrors.CodeInternalFault, fmt.Sprintf("update check panicked: %v", r), nil)
	c.logger.Error("recovered from update check fault", append(appErrors.Fields(err), "stack", string(debug.Stack()))...)
}

func isDevBuild(version string) bool {
	switch strings.TrimSpace(strings.ToLower(version)) {
	case "", "dev", "development":
		return true
	}
	return false
}
