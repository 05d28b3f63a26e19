package publishing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/reelcast-backend/internal/history"
	"github.com/angelmondragon/reelcast-backend/internal/platforms"
	"github.com/angelmondragon/reelcast-backend/pkg/db/models"
	"github.com/angelmondragon/reelcast-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reelcast-backend/pkg/errors"
	"github.com/angelmondragon/reelcast-backend/pkg/logger"
	"github.com/angelmondragon/reelcast-backend/pkg/retry"
)

const (
	msgCredentialNotFound      = "credential not found"
	msgCredentialLookupFailed  = "credential lookup failed"
	msgCredentialRefreshFailed = "credential refresh failed"
	msgPlatformNotEnabled      = "platform not enabled"
	msgPlatformReportedFailure = "platform reported failure"

	defaultUploadTimeout = 10 * time.Minute
)

type credentialStore interface {
	Get(ctx context.Context, ownerID uuid.UUID, platform enums.Platform) (platforms.Credential, error)
	EnsureFresh(ctx context.Context, credential platforms.Credential) (platforms.Credential, error)
	ForceRefresh(ctx context.Context, credential platforms.Credential) (platforms.Credential, error)
}

type recordAppender interface {
	Append(ctx context.Context, record models.PublishRecord) (history.Record, error)
}

type outcomeRecorder interface {
	ObserveOutcome(platform, status string, duration time.Duration)
}

// TargetResult is one platform's outcome inside a publish attempt.
type TargetResult struct {
	Platform       enums.Platform      `json:"platform"`
	Status         enums.PublishStatus `json:"status"`
	RecordID       uuid.UUID           `json:"record_id"`
	PlatformItemID string              `json:"platform_item_id,omitempty"`
	PublishedURL   string              `json:"published_url,omitempty"`
	Error          string              `json:"error,omitempty"`
	Attempts       int                 `json:"attempts"`
}

// OrchestratorParams wires an Orchestrator. Metrics is optional.
type OrchestratorParams struct {
	Registry      *platforms.Registry
	Credentials   credentialStore
	History       recordAppender
	Metrics       outcomeRecorder
	Logger        *logger.Logger
	Retry         retry.Policy
	UploadTimeout time.Duration
	Now           func() time.Time
}

// Orchestrator fans one entry out to its targets and records every outcome.
type Orchestrator struct {
	registry      *platforms.Registry
	creds         credentialStore
	history       recordAppender
	metrics       outcomeRecorder
	logg          *logger.Logger
	policy        retry.Policy
	uploadTimeout time.Duration
	now           func() time.Time
}

func NewOrchestrator(p OrchestratorParams) (*Orchestrator, error) {
	if p.Registry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "adapter registry required")
	}
	if p.Credentials == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "credential store required")
	}
	if p.History == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "history store required")
	}
	if p.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	o := &Orchestrator{
		registry:      p.Registry,
		creds:         p.Credentials,
		history:       p.History,
		metrics:       p.Metrics,
		logg:          p.Logger,
		policy:        p.Retry,
		uploadTimeout: p.UploadTimeout,
		now:           p.Now,
	}
	if o.policy.MaxAttempts < 1 {
		o.policy.MaxAttempts = 1
	}
	if o.uploadTimeout <= 0 {
		o.uploadTimeout = defaultUploadTimeout
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	return o, nil
}

// Publish attempts every target of entry concurrently. One target's failure never
// stops another, and exactly one PublishRecord is appended per target.
func (o *Orchestrator) Publish(ctx context.Context, entry models.ScheduleEntry, media models.MediaItem) map[enums.Platform]TargetResult {
	results := make([]TargetResult, len(entry.Targets))
	var g errgroup.Group
	for i, target := range entry.Targets {
		g.Go(func() error {
			results[i] = o.publishTarget(ctx, entry, media, target)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[enums.Platform]TargetResult, len(results))
	for _, res := range results {
		out[res.Platform] = res
	}
	return out
}

// Fail records a failed outcome for every target without contacting any platform.
func (o *Orchestrator) Fail(ctx context.Context, entry models.ScheduleEntry, reason string) map[enums.Platform]TargetResult {
	out := make(map[enums.Platform]TargetResult, len(entry.Targets))
	for _, target := range entry.Targets {
		out[target.Platform] = o.record(ctx, entry, target.Platform, outcome{err: errors.New(reason)}, 0)
	}
	return out
}

type outcome struct {
	result   platforms.UploadResult
	err      error
	attempts int
}

func (o *Orchestrator) publishTarget(ctx context.Context, entry models.ScheduleEntry, media models.MediaItem, target models.ScheduleTarget) TargetResult {
	logCtx := o.logg.WithScheduleEntryID(ctx, entry.ID.String())
	logCtx = o.logg.WithPlatform(logCtx, string(target.Platform))

	adapter, ok := o.registry.Get(target.Platform)
	if !ok {
		return o.record(logCtx, entry, target.Platform, outcome{err: errors.New(msgPlatformNotEnabled)}, 0)
	}

	cred, err := o.creds.Get(ctx, entry.OwnerID, target.Platform)
	if err != nil {
		msg := msgCredentialLookupFailed
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			msg = msgCredentialNotFound
		} else {
			o.logg.Error(logCtx, msg, err)
		}
		return o.record(logCtx, entry, target.Platform, outcome{err: errors.New(msg)}, 0)
	}
	cred, err = o.creds.EnsureFresh(ctx, cred)
	if err != nil {
		o.logg.Error(logCtx, msgCredentialRefreshFailed, err)
		return o.record(logCtx, entry, target.Platform, outcome{err: errors.New(msgCredentialRefreshFailed)}, 0)
	}

	meta := metadataFor(media, target)
	started := time.Now()
	res := o.upload(ctx, adapter, media, meta, cred, true)
	if platforms.IsAuth(res.err) {
		refreshed, refreshErr := o.creds.ForceRefresh(ctx, cred)
		if refreshErr != nil {
			o.logg.Error(logCtx, msgCredentialRefreshFailed, refreshErr)
			res.err = errors.New(msgCredentialRefreshFailed)
		} else {
			again := o.upload(ctx, adapter, media, meta, refreshed, false)
			again.attempts += res.attempts
			res = again
		}
	}
	return o.record(logCtx, entry, target.Platform, res, time.Since(started))
}

// upload runs Upload under the upload timeout. Transient failures are retried per
// the policy when retry is set; otherwise exactly one call is made.
func (o *Orchestrator) upload(ctx context.Context, adapter platforms.Adapter, media models.MediaItem, meta platforms.Metadata, cred platforms.Credential, withRetry bool) outcome {
	uploadCtx, cancel := context.WithTimeout(ctx, o.uploadTimeout)
	defer cancel()

	maxAttempts := 1
	if withRetry {
		maxAttempts = o.policy.MaxAttempts
	}
	var result platforms.UploadResult
	attempts, err := retry.Do(uploadCtx, maxAttempts, o.policy.Backoff(), platforms.IsRetryable, func(ctx context.Context, attempt int) error {
		res, err := adapter.Upload(ctx, media, meta, cred)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return outcome{result: result, err: err, attempts: attempts}
}

func (o *Orchestrator) record(ctx context.Context, entry models.ScheduleEntry, platform enums.Platform, res outcome, took time.Duration) TargetResult {
	rec := models.PublishRecord{
		ScheduleEntryID: entry.ID,
		VideoID:         entry.MediaItemID,
		OwnerID:         entry.OwnerID,
		Platform:        platform,
		Attempts:        res.attempts,
		AttemptedAt:     o.now(),
	}

	status := enums.PublishStatusFailed
	message := ""
	switch {
	case res.err != nil:
		message = res.err.Error()
	case res.result.Status == enums.PublishStatusFailed || res.result.PlatformItemID == "":
		message = msgPlatformReportedFailure
	default:
		status = enums.PublishStatusPublished
	}
	rec.Status = status
	if status == enums.PublishStatusPublished {
		rec.PlatformItemID = optional(res.result.PlatformItemID)
		rec.PublishedURL = optional(res.result.PublishedURL)
	} else {
		rec.ErrorMessage = optional(message)
	}

	out := TargetResult{
		Platform:       platform,
		Status:         status,
		PlatformItemID: res.result.PlatformItemID,
		PublishedURL:   res.result.PublishedURL,
		Error:          message,
		Attempts:       res.attempts,
	}
	if status == enums.PublishStatusFailed {
		out.PlatformItemID, out.PublishedURL = "", ""
	}

	saved, err := o.history.Append(context.WithoutCancel(ctx), rec)
	if err != nil {
		o.logg.Error(ctx, "append publish record failed", err)
	} else {
		out.RecordID = saved.ID
	}
	if o.metrics != nil {
		o.metrics.ObserveOutcome(string(platform), string(status), took)
	}

	fields := map[string]any{"status": string(status), "attempts": res.attempts}
	if message != "" {
		fields["error"] = message
	}
	o.logg.Info(o.logg.WithFields(ctx, fields), "publish target finished")
	return out
}

func metadataFor(media models.MediaItem, target models.ScheduleTarget) platforms.Metadata {
	meta := platforms.Metadata{
		Title:       media.Title,
		Description: media.Description,
	}
	if target.Caption != nil {
		meta.Caption = strings.TrimSpace(*target.Caption)
	}
	if target.Privacy != nil {
		meta.Privacy = strings.TrimSpace(*target.Privacy)
	}
	if len(target.Tags) > 0 {
		meta.Tags = append([]string(nil), target.Tags...)
	}
	return meta
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
