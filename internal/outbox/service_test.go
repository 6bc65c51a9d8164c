package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-service/internal/backend"
	"relay-service/internal/bus"
	"relay-service/internal/models"
)

// memRepo is an in-memory OutboxRepository used to observe queue state
// without a database.
type memRepo struct {
	mu        sync.Mutex
	entries   []models.QueuedMessage
	nextSeq   int64
	appendErr error
}

func (r *memRepo) Append(_ context.Context, msg models.QueuedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.nextSeq++
	msg.Seq = r.nextSeq
	r.entries = append(r.entries, msg)
	return nil
}

func (r *memRepo) filter(status models.OutboxStatus) []models.QueuedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.QueuedMessage
	for _, e := range r.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (r *memRepo) ListPending(context.Context) ([]models.QueuedMessage, error) {
	return r.filter(models.StatusPending), nil
}

func (r *memRepo) ListDead(context.Context) ([]models.QueuedMessage, error) {
	return r.filter(models.StatusDead), nil
}

func (r *memRepo) List(context.Context) ([]models.QueuedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.QueuedMessage(nil), r.entries...), nil
}

func (r *memRepo) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return nil
		}
	}
	return errors.New("not found")
}

func (r *memRepo) RecordFailure(_ context.Context, id string, lastError string, nextAttemptAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			r.entries[i].Attempts++
			r.entries[i].LastError = lastError
			r.entries[i].NextAttemptAt = nextAttemptAt
			return nil
		}
	}
	return errors.New("not found")
}

func (r *memRepo) MarkDead(_ context.Context, id string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id {
			r.entries[i].Status = models.StatusDead
			r.entries[i].Attempts++
			r.entries[i].LastError = lastError
			return nil
		}
	}
	return errors.New("not found")
}

func (r *memRepo) Requeue(_ context.Context, id string) (models.QueuedMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].ID == id && r.entries[i].Status == models.StatusDead {
			r.entries[i].Status = models.StatusPending
			r.entries[i].Attempts = 0
			r.entries[i].LastError = ""
			return r.entries[i], nil
		}
	}
	return models.QueuedMessage{}, errors.New("not found")
}

func (r *memRepo) Clear(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	return nil
}

func (r *memRepo) Depth(context.Context) (int, int, error) {
	return len(r.filter(models.StatusPending)), len(r.filter(models.StatusDead)), nil
}

// captureBackend records deliveries in order and fails selected bodies.
type captureBackend struct {
	mu        sync.Mutex
	delivered []models.QueuedMessage
	failBody  map[string]error
	onDeliver func()
	pushes    int
}

func (b *captureBackend) DeliverMessage(_ context.Context, msg models.QueuedMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failBody[msg.Body]; ok && err != nil {
		return err
	}
	b.delivered = append(b.delivered, msg)
	if b.onDeliver != nil {
		b.onDeliver()
	}
	return nil
}

func (b *captureBackend) deliveredBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	bodies := make([]string, 0, len(b.delivered))
	for _, msg := range b.delivered {
		bodies = append(bodies, msg.Body)
	}
	return bodies
}

func (b *captureBackend) CountUnread(context.Context, string, models.ConversationKind) (int, error) {
	return 0, nil
}

func (b *captureBackend) MarkAllRead(context.Context, string) error { return nil }

func (b *captureBackend) FetchProfile(context.Context, string) (models.Profile, error) {
	return models.Profile{}, errors.New("no profile")
}

func (b *captureBackend) SendPush(context.Context, string, string, string, map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushes++
	return nil
}

func (b *captureBackend) VerifyToken(context.Context, string) (string, error) { return "u1", nil }

func (b *captureBackend) Ping(context.Context) error { return nil }

type alwaysOffline struct{}

func (alwaysOffline) Online() bool { return false }

func transientErr() error {
	return &backend.Error{Kind: backend.KindTransient, StatusCode: 503, Op: "insert messages", Message: "unavailable"}
}

func permanentErr() error {
	return &backend.Error{Kind: backend.KindPermanent, StatusCode: 422, Op: "insert messages", Message: "validation failed"}
}

func newTestService(repo *memRepo, client *captureBackend, cfg Config) *Service {
	return NewService(repo, client, nil, alwaysOffline{}, bus.New(), nil, nil, "u1", cfg)
}

func TestDrainDeliversInEnqueueOrder(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	for _, body := range []string{"hi", "are you there?", "ok bye"} {
		svc.Enqueue(ctx, models.KindDirect, "u123", body, "")
	}

	result := svc.Drain(ctx)

	require.Equal(t, 3, result.Delivered)
	require.Equal(t, []string{"hi", "are you there?", "ok bye"}, client.deliveredBodies())

	remaining, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDrainDoesNotRedeliver(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	svc.Enqueue(ctx, models.KindDirect, "u123", "once", "")
	require.Equal(t, 1, svc.Drain(ctx).Delivered)

	second := svc.Drain(ctx)
	assert.Equal(t, 0, second.Delivered)
	assert.Len(t, client.delivered, 1)
}

func TestTransientFailurePausesLane(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{failBody: map[string]error{"second": transientErr()}}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	svc.Enqueue(ctx, models.KindDirect, "u123", "first", "")
	svc.Enqueue(ctx, models.KindDirect, "u123", "second", "")
	svc.Enqueue(ctx, models.KindDirect, "u123", "third", "")
	svc.Enqueue(ctx, models.KindDirect, "u999", "other lane", "")

	result := svc.Drain(ctx)

	assert.Equal(t, 2, result.Delivered) // "first" and the independent lane
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Skipped)
	assert.ElementsMatch(t, []string{"first", "other lane"}, client.deliveredBodies())

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "second", pending[0].Body)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.True(t, pending[0].NextAttemptAt.After(time.Now()))
	assert.Equal(t, "third", pending[1].Body)
	assert.Equal(t, 0, pending[1].Attempts)
}

func TestBackoffDefersRetry(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{failBody: map[string]error{"flaky": transientErr()}}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	svc.Enqueue(ctx, models.KindDirect, "u123", "flaky", "")
	svc.Drain(ctx)

	// Entry is not due yet; an immediate drain must skip it.
	delete(client.failBody, "flaky")
	result := svc.Drain(ctx)
	assert.Equal(t, 0, result.Delivered)
	assert.Equal(t, 1, result.Skipped)

	// Once the clock passes the scheduled retry, it goes out.
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	result = svc.Drain(ctx)
	assert.Equal(t, 1, result.Delivered)
}

func TestPermanentRejectionDeadLetters(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{failBody: map[string]error{"bad": permanentErr()}}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	svc.Enqueue(ctx, models.KindDirect, "u123", "bad", "")
	svc.Enqueue(ctx, models.KindDirect, "u123", "good", "")

	result := svc.Drain(ctx)

	assert.Equal(t, 1, result.Dead)
	// The dead entry leaves the queue; the lane keeps moving.
	assert.Equal(t, 1, result.Delivered)

	dead, err := svc.ListDead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "bad", dead[0].Body)
	assert.NotEmpty(t, dead[0].LastError)
}

func TestAttemptCapDeadLetters(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{failBody: map[string]error{"cursed": transientErr()}}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	svc := newTestService(repo, client, cfg)
	ctx := context.Background()

	svc.Enqueue(ctx, models.KindDirect, "u123", "cursed", "")

	first := svc.Drain(ctx)
	assert.Equal(t, 1, first.Failed)

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	second := svc.Drain(ctx)
	assert.Equal(t, 1, second.Dead)

	dead, err := svc.ListDead(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 2, dead[0].Attempts)
}

func TestRequeueRestoresDeadEntry(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{failBody: map[string]error{"bad": permanentErr()}}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	msg := svc.Enqueue(ctx, models.KindDirect, "u123", "bad", "")
	svc.Drain(ctx)

	delete(client.failBody, "bad")
	requeued, err := svc.Requeue(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, requeued.Status)
	assert.Equal(t, 0, requeued.Attempts)

	result := svc.Drain(ctx)
	assert.Equal(t, 1, result.Delivered)
}

func TestEnqueueDuringDrainJoinsNextPass(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	client.onDeliver = func() {
		client.onDeliver = nil
		svc.Enqueue(ctx, models.KindDirect, "u123", "late arrival", "")
	}

	first := svc.Drain(ctx)
	require.Equal(t, 0, first.Delivered)

	svc.Enqueue(ctx, models.KindDirect, "u123", "in flight", "")
	second := svc.Drain(ctx)
	require.Equal(t, 1, second.Delivered)

	// The late entry was not part of that drain's snapshot.
	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "late arrival", pending[0].Body)

	third := svc.Drain(ctx)
	assert.Equal(t, 1, third.Delivered)
}

func TestClearIsIdempotent(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	svc.Enqueue(ctx, models.KindDirect, "u123", "gone", "")
	require.NoError(t, svc.Clear(ctx))
	require.NoError(t, svc.Clear(ctx))

	entries, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, svc.Drain(ctx).Delivered)
}

func TestEnqueueSurvivesStorageFailure(t *testing.T) {
	repo := &memRepo{appendErr: errors.New("disk full")}
	client := &captureBackend{}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	msg := svc.Enqueue(ctx, models.KindDirect, "u123", "held in memory", "")
	assert.NotEmpty(t, msg.ID)

	// Store recovers; the next drain re-persists and delivers.
	repo.mu.Lock()
	repo.appendErr = nil
	repo.mu.Unlock()

	result := svc.Drain(ctx)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, []string{"held in memory"}, client.deliveredBodies())
}

func TestSendFallsBackToQueueWhenOffline(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{}
	svc := newTestService(repo, client, DefaultConfig())
	ctx := context.Background()

	delivered, msg, err := svc.Send(ctx, models.KindGroup, "g7", "hello group", "")
	require.NoError(t, err)
	assert.False(t, delivered)

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msg.ID, pending[0].ID)
}

func TestSendDeliversImmediatelyWhenOnline(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{}
	svc := NewService(repo, client, nil, nil, bus.New(), nil, nil, "u1", DefaultConfig())
	ctx := context.Background()

	delivered, _, err := svc.Send(ctx, models.KindDirect, "u123", "instant", "")
	require.NoError(t, err)
	assert.True(t, delivered)

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, client.pushes)
}

func TestSendSurfacesPermanentRejection(t *testing.T) {
	repo := &memRepo{}
	client := &captureBackend{failBody: map[string]error{"bad": permanentErr()}}
	svc := NewService(repo, client, nil, nil, bus.New(), nil, nil, "u1", DefaultConfig())
	ctx := context.Background()

	delivered, _, err := svc.Send(ctx, models.KindDirect, "u123", "bad", "")
	assert.False(t, delivered)
	require.Error(t, err)
	assert.True(t, backend.IsPermanent(err))

	pending, listErr := repo.ListPending(ctx)
	require.NoError(t, listErr)
	assert.Empty(t, pending)
}
