package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"relay-service/internal/backend"
	"relay-service/internal/bus"
	"relay-service/internal/models"
	"relay-service/internal/observability"
	"relay-service/internal/repositories"
	"relay-service/internal/telemetry"
)

// Broadcaster fans outbox lifecycle events out to connected client surfaces.
type Broadcaster interface {
	BroadcastOutbox(ev models.OutboxEvent)
}

// Connectivity reports whether the backend is currently reachable.
type Connectivity interface {
	Online() bool
}

// ProfileLookup resolves a user profile, used to title push notifications.
type ProfileLookup interface {
	Lookup(ctx context.Context, userID string) (models.Profile, error)
}

// Config tunes retry behavior and the safety-net drain interval.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DrainInterval  time.Duration
}

// DefaultConfig matches the hardened defaults: capped attempts with
// exponential backoff instead of unbounded silent retry.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    8,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
		DrainInterval:  time.Minute,
	}
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
	Skipped   int `json:"skipped"`
}

func (r *DrainResult) add(other DrainResult) {
	r.Delivered += other.Delivered
	r.Failed += other.Failed
	r.Dead += other.Dead
	r.Skipped += other.Skipped
}

// Service is the offline outbox: it guarantees a message composed while
// offline (or whose send failed) is never silently lost, is retried without
// duplication, and is delivered in composition order per target.
type Service struct {
	repo     repositories.OutboxRepository
	client   backend.Client
	hub      Broadcaster
	conn     Connectivity
	bus      *bus.Bus
	profiles ProfileLookup
	audit    *telemetry.AuditEmitter
	userID   string
	cfg      Config
	now      func() time.Time

	mu       sync.Mutex
	overflow []models.QueuedMessage // memory-only entries while the store is unavailable
	draining atomic.Bool
}

// NewService wires an outbox. hub, profiles and audit may be nil.
func NewService(repo repositories.OutboxRepository, client backend.Client, hub Broadcaster, conn Connectivity, b *bus.Bus, profiles ProfileLookup, audit *telemetry.AuditEmitter, userID string, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		repo:     repo,
		client:   client,
		hub:      hub,
		conn:     conn,
		bus:      b,
		profiles: profiles,
		audit:    audit,
		userID:   userID,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Send is the UI send path: one immediate delivery attempt while online,
// falling back to the queue on transient failure or while offline. Permanent
// rejections are returned to the caller and never queued.
func (s *Service) Send(ctx context.Context, kind models.ConversationKind, targetID, body, attachmentRef string) (bool, models.QueuedMessage, error) {
	msg := s.newMessage(kind, targetID, body, attachmentRef)

	if s.conn == nil || s.conn.Online() {
		err := s.client.DeliverMessage(ctx, msg)
		if err == nil {
			s.afterDelivery(ctx, msg)
			observability.IncOutboxDelivery("delivered")
			return true, msg, nil
		}
		if backend.IsPermanent(err) {
			observability.IncOutboxDelivery("rejected")
			return false, msg, err
		}
	}

	s.persist(ctx, msg)
	return false, msg, nil
}

// Enqueue appends a message to the durable queue. It never fails upward:
// a storage failure degrades to a memory-only entry for this session, with
// the persistence error logged.
func (s *Service) Enqueue(ctx context.Context, kind models.ConversationKind, targetID, body, attachmentRef string) models.QueuedMessage {
	msg := s.newMessage(kind, targetID, body, attachmentRef)
	s.persist(ctx, msg)
	return msg
}

func (s *Service) newMessage(kind models.ConversationKind, targetID, body, attachmentRef string) models.QueuedMessage {
	now := s.now().UTC()
	return models.QueuedMessage{
		ID:            uuid.NewString(),
		Kind:          kind,
		TargetID:      targetID,
		Body:          body,
		AttachmentRef: attachmentRef,
		Status:        models.StatusPending,
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}
}

func (s *Service) persist(ctx context.Context, msg models.QueuedMessage) {
	if err := s.repo.Append(ctx, msg); err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("outbox persistence failed, holding entry in memory")
		s.mu.Lock()
		s.overflow = append(s.overflow, msg)
		s.mu.Unlock()
	}
	s.broadcast(models.OutboxEvent{Type: "queued", Message: &msg})
	s.reportDepth(ctx)
}

// Drain attempts delivery of all currently queued entries, strictly in
// enqueue order per target. Targets drain independently; within a target a
// failing entry stops the lane so a later message can never overtake an
// earlier one. Entries enqueued during the pass join the next pass.
func (s *Service) Drain(ctx context.Context) DrainResult {
	if !s.draining.CompareAndSwap(false, true) {
		return DrainResult{}
	}
	defer s.draining.Store(false)

	observability.IncOutboxDrain()
	s.flushOverflow(ctx)

	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("outbox drain: listing pending entries failed")
		return DrainResult{}
	}

	// Snapshot grouped into per-target lanes, preserving enqueue order.
	lanes := make(map[models.Target][]models.QueuedMessage)
	var order []models.Target
	for _, msg := range pending {
		target := msg.Target()
		if _, seen := lanes[target]; !seen {
			order = append(order, target)
		}
		lanes[target] = append(lanes[target], msg)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result DrainResult
	)
	for _, target := range order {
		entries := lanes[target]
		wg.Add(1)
		go func() {
			defer wg.Done()
			laneResult := s.drainLane(ctx, entries)
			mu.Lock()
			result.add(laneResult)
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.reportDepth(ctx)
	if result != (DrainResult{}) {
		log.Info().
			Int("delivered", result.Delivered).
			Int("failed", result.Failed).
			Int("dead", result.Dead).
			Int("skipped", result.Skipped).
			Msg("outbox drain finished")
	}
	return result
}

func (s *Service) drainLane(ctx context.Context, entries []models.QueuedMessage) DrainResult {
	var result DrainResult
	for i, entry := range entries {
		if entry.NextAttemptAt.After(s.now()) {
			// Head of lane not due yet; later entries must wait behind it.
			result.Skipped += len(entries) - i
			return result
		}

		err := s.client.DeliverMessage(ctx, entry)
		if err == nil {
			if removeErr := s.repo.Remove(ctx, entry.ID); removeErr != nil {
				log.Error().Err(removeErr).Str("message_id", entry.ID).Msg("outbox remove after delivery failed")
			}
			s.afterDelivery(ctx, entry)
			observability.IncOutboxDelivery("delivered")
			result.Delivered++
			continue
		}

		if backend.IsPermanent(err) || entry.Attempts+1 >= s.cfg.MaxAttempts {
			s.deadLetter(ctx, entry, err)
			result.Dead++
			// A dead entry leaves the queue; the lane continues behind it.
			continue
		}

		delay := retryDelay(entry.Attempts, s.cfg.InitialBackoff, s.cfg.MaxBackoff)
		if recordErr := s.repo.RecordFailure(ctx, entry.ID, err.Error(), s.now().Add(delay)); recordErr != nil {
			log.Error().Err(recordErr).Str("message_id", entry.ID).Msg("outbox failure bookkeeping failed")
		}
		observability.IncOutboxDelivery("transient_failure")
		log.Warn().Err(err).Str("message_id", entry.ID).Int("attempts", entry.Attempts+1).Dur("retry_in", delay).Msg("outbox delivery failed, lane paused")
		result.Failed++
		result.Skipped += len(entries) - i - 1
		return result
	}
	return result
}

func (s *Service) afterDelivery(ctx context.Context, msg models.QueuedMessage) {
	s.broadcast(models.OutboxEvent{Type: "delivered", MessageID: msg.ID})
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindOutboxDelivered, Payload: msg.ID})
	}
	s.notifyRecipient(ctx, msg)
}

// notifyRecipient dispatches a push notification through the backend
// function endpoint. Fire-and-forget: a push failure never affects the
// delivery outcome.
func (s *Service) notifyRecipient(ctx context.Context, msg models.QueuedMessage) {
	title := "New message"
	if s.profiles != nil {
		if profile, err := s.profiles.Lookup(ctx, s.userID); err == nil && profile.Username != "" {
			title = "Message from " + profile.Username
		}
	}
	data := map[string]string{
		"kind":      string(msg.Kind),
		"target_id": msg.TargetID,
		"client_id": msg.ID,
	}
	if err := s.client.SendPush(ctx, msg.TargetID, title, preview(msg.Body), data); err != nil {
		log.Warn().Err(err).Str("message_id", msg.ID).Msg("push dispatch failed")
	}
}

func (s *Service) deadLetter(ctx context.Context, entry models.QueuedMessage, cause error) {
	if err := s.repo.MarkDead(ctx, entry.ID, cause.Error()); err != nil {
		log.Error().Err(err).Str("message_id", entry.ID).Msg("outbox dead-letter bookkeeping failed")
	}
	observability.IncOutboxDelivery("dead")
	log.Warn().Err(cause).Str("message_id", entry.ID).Int("attempts", entry.Attempts+1).Msg("message dead-lettered")
	s.broadcast(models.OutboxEvent{Type: "dead", MessageID: entry.ID})
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindOutboxDead, Payload: entry.ID})
	}
	if s.audit != nil {
		s.audit.Emit(ctx, "WARN", "outbox entry dead-lettered: "+cause.Error(), "", &s.userID)
	}
}

// flushOverflow re-persists memory-only entries once the store recovers.
func (s *Service) flushOverflow(ctx context.Context) {
	s.mu.Lock()
	entries := s.overflow
	s.overflow = nil
	s.mu.Unlock()
	if len(entries) == 0 {
		return
	}

	var kept []models.QueuedMessage
	for i, msg := range entries {
		if err := s.repo.Append(ctx, msg); err != nil {
			log.Error().Err(err).Str("message_id", msg.ID).Msg("outbox overflow flush failed")
			kept = entries[i:]
			break
		}
	}
	if len(kept) > 0 {
		s.mu.Lock()
		s.overflow = append(kept, s.overflow...)
		s.mu.Unlock()
	}
}

// List returns every queue entry in enqueue order.
func (s *Service) List(ctx context.Context) ([]models.QueuedMessage, error) {
	return s.repo.List(ctx)
}

// ListDead returns dead-lettered entries.
func (s *Service) ListDead(ctx context.Context) ([]models.QueuedMessage, error) {
	return s.repo.ListDead(ctx)
}

// Requeue returns a dead entry to the pending queue with a fresh retry
// budget. User-driven; nothing requeues dead entries automatically.
func (s *Service) Requeue(ctx context.Context, id string) (models.QueuedMessage, error) {
	msg, err := s.repo.Requeue(ctx, id)
	if err != nil {
		return models.QueuedMessage{}, err
	}
	s.broadcast(models.OutboxEvent{Type: "requeued", Message: &msg})
	s.reportDepth(ctx)
	return msg, nil
}

// Clear discards all queued entries unconditionally. Idempotent; this is the
// user-triggered escape hatch, never invoked automatically.
func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.overflow = nil
	s.mu.Unlock()
	if err := s.repo.Clear(ctx); err != nil {
		return err
	}
	s.broadcast(models.OutboxEvent{Type: "cleared"})
	s.reportDepth(ctx)
	return nil
}

// Run drains on connectivity-restored events and on a safety-net ticker
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	events, unsubscribe := s.bus.Subscribe(bus.KindConnectivityOnline, 4)
	defer unsubscribe()

	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			s.Drain(ctx)
		case <-ticker.C:
			if s.conn == nil || s.conn.Online() {
				s.Drain(ctx)
			}
		}
	}
}

func (s *Service) broadcast(ev models.OutboxEvent) {
	if s.hub != nil {
		s.hub.BroadcastOutbox(ev)
	}
}

func (s *Service) reportDepth(ctx context.Context) {
	pending, dead, err := s.repo.Depth(ctx)
	if err != nil {
		return
	}
	s.mu.Lock()
	pending += len(s.overflow)
	s.mu.Unlock()
	observability.SetOutboxDepth(pending, dead)
}

// retryDelay computes the backoff before attempt n+1.
func retryDelay(attempts int, initial, max time.Duration) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = max
	bo.MaxElapsedTime = 0
	delay := bo.NextBackOff()
	for i := 0; i < attempts; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

func preview(body string) string {
	const maxPreview = 80
	runes := []rune(body)
	if len(runes) <= maxPreview {
		return body
	}
	return string(runes[:maxPreview]) + "…"
}
