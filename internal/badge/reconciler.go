package badge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"relay-service/internal/backend"
	"relay-service/internal/models"
	"relay-service/internal/observability"
	"relay-service/internal/repositories"
)

// Sink is one presentation surface for the badge value. Every successful
// update fans out to all sinks so surfaces never disagree.
type Sink interface {
	PushBadge(ctx context.Context, counts models.BadgeCounts)
}

// Reconciler maintains the single authoritative unread count. It polls the
// two backend count queries, merges them into one snapshot, and fans the
// result out. Explicitly constructed with its own lifecycle; create one per
// signed-in session and cancel its Run context at sign-out.
type Reconciler struct {
	client   backend.Client
	repo     repositories.BadgeRepository
	sinks    []Sink
	userID   string
	interval time.Duration

	seq atomic.Int64 // issued poll sequence numbers

	mu   sync.Mutex
	snap models.BadgeSnapshot // last known good value
}

// NewReconciler constructs a Reconciler. repo may be nil to skip persistence.
func NewReconciler(client backend.Client, repo repositories.BadgeRepository, userID string, interval time.Duration, sinks ...Sink) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reconciler{
		client:   client,
		repo:     repo,
		sinks:    sinks,
		userID:   userID,
		interval: interval,
	}
}

// Current returns the last known badge counts.
func (r *Reconciler) Current() models.BadgeCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Counts
}

// Run restores the persisted snapshot for display continuity, then polls
// until ctx is cancelled. The ticker is released on return.
func (r *Reconciler) Run(ctx context.Context) {
	r.restore(ctx)
	r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

func (r *Reconciler) restore(ctx context.Context) {
	if r.repo == nil {
		return
	}
	snap, err := r.repo.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("badge snapshot restore failed")
		return
	}
	r.mu.Lock()
	r.snap = snap
	counts := snap.Counts
	r.mu.Unlock()
	r.fanOut(ctx, counts)
}

// Refresh runs one poll. The two count queries are independent; either may
// fail without corrupting the other side. Each poll carries a sequence
// number so a slow in-flight result can never overwrite a newer one.
func (r *Reconciler) Refresh(ctx context.Context) {
	seq := r.seq.Add(1)

	var (
		wg            sync.WaitGroup
		direct, group int
		directOK      bool
		groupOK       bool
		directErr     error
		groupErr      error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		direct, directErr = r.client.CountUnread(ctx, r.userID, models.KindDirect)
		directOK = directErr == nil
	}()
	go func() {
		defer wg.Done()
		group, groupErr = r.client.CountUnread(ctx, r.userID, models.KindGroup)
		groupOK = groupErr == nil
	}()
	wg.Wait()

	if !directOK && !groupOK {
		// Non-fatal: the last known value stands until the next poll.
		observability.IncBadgePollError()
		log.Debug().AnErr("direct", directErr).AnErr("group", groupErr).Msg("badge poll failed")
		return
	}
	if !directOK || !groupOK {
		observability.IncBadgePollError()
	}

	var directPtr, groupPtr *int
	if directOK {
		directPtr = &direct
	}
	if groupOK {
		groupPtr = &group
	}
	r.Update(ctx, seq, directPtr, groupPtr)
}

// Update commits a poll result. A nil side means that sub-query failed and
// the last known good sub-count is retained, so the displayed total is never
// a partial sum with a zero standing in for the failed side. Results whose
// seq is not newer than the committed snapshot are discarded as stale.
func (r *Reconciler) Update(ctx context.Context, seq int64, direct, group *int) {
	r.mu.Lock()
	if seq <= r.snap.Seq {
		r.mu.Unlock()
		log.Debug().Int64("seq", seq).Int64("committed", r.snap.Seq).Msg("stale badge poll discarded")
		return
	}

	counts := r.snap.Counts
	if direct != nil {
		counts.Direct = *direct
	}
	if group != nil {
		counts.Group = *group
	}
	counts = counts.Sum()

	r.snap = models.BadgeSnapshot{Counts: counts, Seq: seq, UpdatedAt: time.Now().UTC()}
	snap := r.snap
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.fanOut(ctx, counts)
}

// Clear zeroes the badge and performs the same fan-out, marking everything
// read on the backend. Used at sign-out and on explicit mark-all-read.
// Idempotent.
func (r *Reconciler) Clear(ctx context.Context) {
	seq := r.seq.Add(1)

	if err := r.client.MarkAllRead(ctx, r.userID); err != nil {
		log.Warn().Err(err).Msg("mark-all-read failed, clearing local badge anyway")
	}

	r.mu.Lock()
	r.snap = models.BadgeSnapshot{Seq: seq, UpdatedAt: time.Now().UTC()}
	snap := r.snap
	r.mu.Unlock()

	r.persist(ctx, snap)
	r.fanOut(ctx, snap.Counts)
}

func (r *Reconciler) persist(ctx context.Context, snap models.BadgeSnapshot) {
	if r.repo == nil {
		return
	}
	if err := r.repo.Save(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("badge snapshot persist failed")
	}
}

func (r *Reconciler) fanOut(ctx context.Context, counts models.BadgeCounts) {
	for _, sink := range r.sinks {
		sink.PushBadge(ctx, counts)
	}
}
