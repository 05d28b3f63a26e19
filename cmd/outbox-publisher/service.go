package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/reelcast-backend/pkg/config"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/metrics"
	"github.com/angelmondragon/reelcast-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxIdleBackoff        = 10 * time.Second

	outcomePublished    = "published"
	outcomeRetry        = "retry"
	outcomeDeadLettered = "dead_lettered"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	DLQRepository    dlqRepository
	Metrics          *metrics.RelayMetrics
	PublisherFactory publisherFactory
}

// Service relays committed outbox rows for schedule and connection events to Pub/Sub.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	pubsub       pubSubClient
	repo         outboxRepository
	registry     registryResolver
	dlq          dlqRepository
	metrics      *metrics.RelayMetrics
	publishers   publisherFactory
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		cache := map[string]publisher{}
		factory = func(topic string) publisher {
			if pub, ok := cache[topic]; ok {
				return pub
			}
			handle := params.PubSub.Publisher(topic)
			if handle == nil {
				return nil
			}
			pub := &gcpPublisher{handle: handle}
			cache[topic] = pub
			return pub
		}
	}

	outboxCfg := params.Config.Outbox
	batch := outboxCfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	poll := time.Duration(outboxCfg.PollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = defaultPollInterval
	}
	maxAttempts := outboxCfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		pubsub:       params.PubSub,
		repo:         params.Repository,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		metrics:      params.Metrics,
		publishers:   factory,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: poll,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run drains the outbox until ctx is canceled. Empty polls and batch errors
// back off exponentially up to maxIdleBackoff; a full batch polls again immediately.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ping(ctx, "database", s.db.Ping); err != nil {
		return err
	}
	if err := s.ping(ctx, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}

	idle := s.newIdleBackoff()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox relay batch failed", err)
		case processed:
			idle = s.newIdleBackoff()
			continue
		}

		wait, _ := idle.Next()
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (s *Service) newIdleBackoff() retry.Backoff {
	backoff := retry.NewExponential(s.pollInterval)
	backoff = retry.WithCappedDuration(maxIdleBackoff, backoff)
	return retry.WithJitterPercent(20, backoff)
}

func (s *Service) ping(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		s.logg.Error(ctx, name+" ping failed", err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

type pendingPublish struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	result   publishResult
	err      error
}

// processBatch claims a batch, hands every resolvable row to Pub/Sub before
// waiting on any acknowledgement, then settles each row inside the claiming transaction.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		processed = true

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()

		pending := make([]pendingPublish, 0, len(events))
		for _, event := range events {
			pending = append(pending, s.submit(publishCtx, event))
		}

		for _, item := range pending {
			if item.err == nil {
				if _, err := item.result.Get(publishCtx); err != nil {
					item.err = err
				}
			}
			if err := s.settle(ctx, tx, item); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) submit(ctx context.Context, event models.OutboxEvent) pendingPublish {
	item := pendingPublish{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		item.err = err
		return item
	}
	item.resolved = resolved

	topic := resolved.Descriptor.Topic
	pub := s.publishers(topic)
	if pub == nil {
		item.err = registry.Poison("no publisher for topic %s", topic)
		return item
	}
	result := pub.Publish(ctx, s.message(event, resolved))
	if result == nil {
		item.err = registry.Poison("publisher for topic %s returned no result", topic)
		return item
	}
	item.result = result
	return item
}

func (s *Service) message(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if actor := resolved.Envelope.Actor; actor != nil && actor.OwnerID != uuid.Nil {
		attrs["owner_id"] = actor.OwnerID.String()
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, item pendingPublish) error {
	event := item.event
	fields := s.eventFields(item)
	logCtx := s.logg.WithFields(ctx, fields)

	if item.err == nil {
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.Inc(string(event.EventType), outcomePublished)
		s.logg.Debug(logCtx, "outbox event relayed")
		return nil
	}

	if registry.IsPoison(item.err) {
		return s.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, item.err)
	}
	if event.FinalAttempt(s.maxAttempts) {
		return s.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", item.err))
	}

	s.logg.Warn(s.logg.WithField(logCtx, "error", item.err.Error()), "outbox relay attempt failed")
	if err := s.repo.MarkFailedTx(tx, event.ID, item.err); err != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	s.metrics.Inc(string(event.EventType), outcomeRetry)
	return nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	ctx = s.logg.WithFields(ctx, map[string]any{"error_reason": reason, "error": cause.Error()})
	s.logg.Warn(ctx, "outbox event dead-lettered")

	entry := models.DeadLetter(event, reason, cause, s.now())
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	s.metrics.Inc(string(event.EventType), outcomeDeadLettered)
	return nil
}

func (s *Service) eventFields(item pendingPublish) map[string]any {
	fields := map[string]any{
		"outbox_id":      item.event.ID.String(),
		"event_type":     item.event.EventType,
		"aggregate_type": item.event.AggregateType,
		"aggregate_id":   item.event.AggregateID.String(),
		"attempt_count":  item.event.AttemptCount,
	}
	if item.resolved != nil {
		fields["event_id"] = item.resolved.Envelope.EventID
		fields["topic"] = item.resolved.Descriptor.Topic
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type gcpPublisher struct {
	handle *gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.handle.Publish(ctx, msg)
}
