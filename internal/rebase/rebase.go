// Package rebase applies persisted update batches to change set heads. Each
// change set gets its own serial apply loop, so two batches for the same
// change set never race; batches for different change sets run in parallel.
// The head pointer is advanced with compare-and-swap, so even a racing
// writer outside this process cannot silently lose updates.
package rebase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"wsgraph/internal/cas"
	"wsgraph/internal/graph"
	"wsgraph/internal/snapshot"
	"wsgraph/internal/store"
)

// HeadStore is the storage surface the rebaser needs: content-addressed
// payloads plus per-change-set head pointers.
type HeadStore interface {
	store.ContentStore
	Head(ctx context.Context, workspace, changeSet string) (cas.ContentHash, error)
	CompareAndSwapHead(ctx context.Context, workspace, changeSet string, expected, next cas.ContentHash) error
}

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("rebaser is closed")

// ErrNeedsRetry is returned when the head moved on every apply attempt. The
// caller recomputes its batch against the new head and resubmits.
var ErrNeedsRetry = errors.New("head kept moving; recompute the batch and resubmit")

// ErrNoBaseSnapshot is returned when a change set has no head and the
// request names no base to start from.
var ErrNoBaseSnapshot = errors.New("change set has no head and request has no base snapshot")

// ErrNoBatch is returned for a request that carries no update batch.
var ErrNoBatch = errors.New("request carries no batch")

// Request asks for one batch to be applied to a change set.
type Request struct {
	ID        uuid.UUID
	Workspace string
	ChangeSet string
	// Base is the snapshot to start from when the change set has no head
	// yet. Once a head exists the batch always applies to the head.
	Base  snapshot.Address
	Batch *snapshot.RebaseBatch
}

// Response reports the outcome of one request. Exactly one of Address and
// Conflicts is meaningful: conflicts mean the head did not move.
type Response struct {
	ID        uuid.UUID
	Address   snapshot.Address
	Conflicts []graph.Conflict
}

// Options configures a Rebaser.
type Options struct {
	// Quiesce is how long an apply loop sits idle before shutting down.
	Quiesce time.Duration
	// MaxRetries bounds apply attempts when the head keeps moving.
	MaxRetries int
	Logger     *slog.Logger
}

const (
	defaultQuiesce    = 30 * time.Second
	defaultMaxRetries = 5
	loopQueueDepth    = 16
)

// Rebaser owns the per-change-set apply loops.
type Rebaser struct {
	store   HeadStore
	quiesce time.Duration
	retries int
	log     *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	loops  map[string]*loop
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

type submission struct {
	ctx   context.Context
	req   *Request
	reply chan result
}

type result struct {
	resp *Response
	err  error
}

type loop struct {
	key    string
	ch     chan submission
	closed bool
}

// New creates a rebaser on the given store. Loops start lazily on first
// submission for a change set.
func New(s HeadStore, opts Options) *Rebaser {
	if opts.Quiesce <= 0 {
		opts.Quiesce = defaultQuiesce
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Rebaser{
		store:   s,
		quiesce: opts.Quiesce,
		retries: opts.MaxRetries,
		log:     opts.Logger,
		metrics: newMetrics(),
		loops:   make(map[string]*loop),
		stop:    make(chan struct{}),
	}
}

// Metrics exposes the rebaser's collectors for registration.
func (r *Rebaser) Metrics() *Metrics { return r.metrics }

// Submit routes a request to its change set's apply loop and waits for the
// outcome. The context cancels only the wait; a request already being
// applied runs to completion so the head is never left half-advanced.
func (r *Rebaser) Submit(ctx context.Context, req *Request) (*Response, error) {
	if req.Batch == nil {
		return nil, fmt.Errorf("request %s: %w", req.ID, ErrNoBatch)
	}
	r.metrics.requests.Inc()
	key := req.Workspace + "/" + req.ChangeSet
	s := submission{ctx: ctx, req: req, reply: make(chan result, 1)}

	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrClosed
		}
		l := r.loops[key]
		if l == nil || l.closed {
			l = &loop{key: key, ch: make(chan submission, loopQueueDepth)}
			r.loops[key] = l
			r.wg.Add(1)
			r.metrics.openLoops.Inc()
			go r.run(l)
		}
		enqueued := false
		select {
		case l.ch <- s:
			enqueued = true
		default:
		}
		r.mu.Unlock()
		if enqueued {
			break
		}
		// Queue full: the loop is draining, try again shortly.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}

	select {
	case res := <-s.reply:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down all loops and rejects further submissions.
func (r *Rebaser) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.stop)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Rebaser) run(l *loop) {
	defer func() {
		r.metrics.openLoops.Dec()
		r.wg.Done()
	}()
	timer := time.NewTimer(r.quiesce)
	defer timer.Stop()

	for {
		select {
		case s := <-l.ch:
			resp, err := r.process(s.ctx, s.req)
			s.reply <- result{resp: resp, err: err}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(r.quiesce)
		case <-r.stop:
			r.retire(l)
			return
		case <-timer.C:
			// Only retire when nothing is queued; submissions happen under
			// the same lock, so an empty queue here stays empty.
			r.mu.Lock()
			if len(l.ch) > 0 {
				r.mu.Unlock()
				timer.Reset(r.quiesce)
				continue
			}
			l.closed = true
			delete(r.loops, l.key)
			r.mu.Unlock()
			r.log.Debug("apply loop quiesced", "change_set", l.key)
			return
		}
	}
}

// retire marks the loop closed and answers anything still queued.
func (r *Rebaser) retire(l *loop) {
	r.mu.Lock()
	l.closed = true
	delete(r.loops, l.key)
	r.mu.Unlock()
	for {
		select {
		case s := <-l.ch:
			s.reply <- result{err: ErrClosed}
		default:
			return
		}
	}
}

// process applies one batch, retrying from the fresh head when the pointer
// moves underneath the compare-and-swap.
func (r *Rebaser) process(ctx context.Context, req *Request) (*Response, error) {
	for attempt := 0; attempt < r.retries; attempt++ {
		head, err := r.store.Head(ctx, req.Workspace, req.ChangeSet)
		if err != nil {
			return nil, err
		}
		base := snapshot.Address(head)
		if base.IsNil() {
			base = req.Base
		}
		if base.IsNil() {
			return nil, fmt.Errorf("%s/%s: %w", req.Workspace, req.ChangeSet, ErrNoBaseSnapshot)
		}

		// Load gives a private graph, so a conflicted apply discards state
		// by simply dropping it.
		g, err := snapshot.Load(ctx, r.store, base)
		if err != nil {
			return nil, err
		}
		conflicts, err := g.PerformUpdates(req.Batch.Updates)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			r.metrics.conflicts.Inc()
			r.log.Info("rebase conflicted",
				"request", req.ID, "change_set", req.ChangeSet, "conflicts", len(conflicts))
			return &Response{ID: req.ID, Conflicts: conflicts}, nil
		}
		if err := g.CleanupAndMerkleTreeHash(); err != nil {
			return nil, err
		}

		next, err := snapshot.Write(ctx, r.store, g)
		if err != nil {
			return nil, err
		}
		err = r.store.CompareAndSwapHead(ctx, req.Workspace, req.ChangeSet, head, cas.ContentHash(next))
		if errors.Is(err, store.ErrHeadMoved) {
			r.metrics.headRetries.Inc()
			r.log.Debug("head moved during apply, retrying",
				"request", req.ID, "change_set", req.ChangeSet, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		r.log.Info("rebase applied",
			"request", req.ID, "change_set", req.ChangeSet,
			"updates", len(req.Batch.Updates), "head", next)
		return &Response{ID: req.ID, Address: next}, nil
	}
	return nil, fmt.Errorf("%s/%s after %d attempts: %w", req.Workspace, req.ChangeSet, r.retries, ErrNeedsRetry)
}
