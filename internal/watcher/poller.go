package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/user/gitnotify/internal/gitremote"
	"github.com/user/gitnotify/internal/storage"
	"github.com/user/gitnotify/pkg/logger"
)

// RefSource lists the advertised refs of a remote repository.
type RefSource interface {
	ListRefs(ctx context.Context, url string) (gitremote.Snapshot, error)
}

// RefStore is the persistence the poller needs: repository enumeration,
// ref snapshots and orphan cleanup.
type RefStore interface {
	AllRepositories() ([]storage.Repository, error)
	Refs(repoID int64) (map[string]string, error)
	UpsertRefs(repoID int64, refs map[string]string) error
	RemoveOrphanRepositories() (int64, error)
	RemoveOrphanUsers() (int64, error)
}

// EventSink receives the ordered events of one repository's diff.
// Delivery failures stay inside the sink; the poller only persists and
// hands over.
type EventSink interface {
	HandleEvents(ctx context.Context, repo storage.Repository, events []Event)
}

// Options configures a Poller.
type Options struct {
	Interval        time.Duration
	CleanupInterval time.Duration
	RemoteTimeout   time.Duration
	Concurrency     int
}

// Poller periodically diffs all known repositories against their stored
// ref snapshots and feeds detected events to the sink.
type Poller struct {
	source RefSource
	store  RefStore
	sink   EventSink
	opts   Options

	mu       sync.Mutex
	inFlight map[int64]struct{}
	lastPoll time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a new repository poller.
func NewPoller(source RefSource, store RefStore, sink EventSink, opts Options) *Poller {
	ctx, cancel := context.WithCancel(context.Background())

	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = 30 * time.Second
	}

	return &Poller{
		source:   source,
		store:    store,
		sink:     sink,
		opts:     opts,
		inFlight: make(map[int64]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.pollLoop()
	logger.Info().
		Dur("interval", p.opts.Interval).
		Int("concurrency", p.opts.Concurrency).
		Msg("Poller started")
}

// Stop cancels the loop and waits for in-flight repository checks to
// finish.
func (p *Poller) Stop() {
	logger.Info().Msg("Stopping poller")
	p.cancel()
	p.wg.Wait()
}

// LastPoll returns when the last poll cycle completed.
func (p *Poller) LastPoll() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPoll
}

// pollLoop runs the poll and cleanup tickers until the poller is
// stopped.
func (p *Poller) pollLoop() {
	defer p.wg.Done()

	pollTicker := time.NewTicker(p.opts.Interval)
	defer pollTicker.Stop()

	cleanupInterval := p.opts.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-pollTicker.C:
			p.PollOnce(p.ctx)
		case <-cleanupTicker.C:
			p.Cleanup()
		}
	}
}

// PollOnce runs a single poll cycle over all known repositories with
// bounded concurrency. Failures are isolated per repository; the cycle
// always completes for the rest.
func (p *Poller) PollOnce(ctx context.Context) {
	repos, err := p.store.AllRepositories()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to enumerate repositories")
		return
	}
	if len(repos) == 0 {
		p.finishCycle()
		return
	}

	logger.Debug().Int("count", len(repos)).Msg("Polling repositories")

	sem := make(chan struct{}, p.opts.Concurrency)
	var wg sync.WaitGroup

	for _, repo := range repos {
		if ctx.Err() != nil {
			break
		}
		if !p.beginRepo(repo.ID) {
			// Still being diffed by an overrunning previous cycle
			logger.Debug().Int64("repo_id", repo.ID).Msg("Skipping repository, poll still in flight")
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(repo storage.Repository) {
			defer wg.Done()
			defer func() { <-sem }()
			defer p.endRepo(repo.ID)
			p.pollRepo(ctx, repo)
		}(repo)
	}

	wg.Wait()
	p.finishCycle()
}

// pollRepo checks a single repository: fetch the fresh snapshot, diff
// against the store, persist the new hashes, then dispatch. Persisting
// before dispatch means a crash in between loses notifications rather
// than duplicating hashes; best-effort delivery accepts that.
func (p *Poller) pollRepo(ctx context.Context, repo storage.Repository) {
	remoteCtx, cancel := context.WithTimeout(ctx, p.opts.RemoteTimeout)
	defer cancel()

	fresh, err := p.source.ListRefs(remoteCtx, repo.URL)
	if err != nil {
		if errors.Is(err, gitremote.ErrInvalidRepository) {
			// Persistent condition: the row stays, operators see this
			// repeat every cycle.
			logger.Warn().Err(err).Str("url", repo.URL).Msg("Repository is not a valid Git endpoint")
		} else {
			logger.Warn().Err(err).Str("url", repo.URL).Msg("Remote unreachable, skipping this cycle")
		}
		return
	}

	prior, err := p.store.Refs(repo.ID)
	if err != nil {
		logger.Error().Err(err).Str("url", repo.URL).Msg("Failed to load stored refs")
		return
	}

	events, updates := Diff(prior, fresh)
	if len(updates) == 0 {
		return
	}

	if err := p.store.UpsertRefs(repo.ID, updates); err != nil {
		// Nothing is dispatched without durably recorded hashes.
		logger.Error().Err(err).Str("url", repo.URL).Msg("Failed to persist refs, skipping dispatch")
		return
	}

	if len(events) == 0 {
		return
	}

	logger.Info().
		Str("url", repo.URL).
		Int("events", len(events)).
		Msg("Repository changes detected")

	p.sink.HandleEvents(ctx, repo, events)
}

// Cleanup removes repositories and users that no subscription
// references anymore.
func (p *Poller) Cleanup() {
	repos, err := p.store.RemoveOrphanRepositories()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to remove orphan repositories")
	} else if repos > 0 {
		logger.Info().Int64("count", repos).Msg("Removed orphan repositories")
	}

	users, err := p.store.RemoveOrphanUsers()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to remove orphan users")
	} else if users > 0 {
		logger.Info().Int64("count", users).Msg("Removed orphan users")
	}
}

// beginRepo marks a repository as being polled. It returns false when a
// previous cycle still holds the marker.
func (p *Poller) beginRepo(repoID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[repoID]; busy {
		return false
	}
	p.inFlight[repoID] = struct{}{}
	return true
}

func (p *Poller) endRepo(repoID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, repoID)
}

func (p *Poller) finishCycle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastPoll = time.Now()
}
