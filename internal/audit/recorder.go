// Package audit records entity lifecycle events into the append-only activity log.
//
// The recorder is an observer: it never fails the operation it observes. Write errors are
// logged and counted, and callers must not assume the entity write and the activity row
// are atomic.
package audit

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/grc/internal/models"
	"github.com/wolfeidau/grc/internal/store"
	"github.com/wolfeidau/grc/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultRedacted lists bookkeeping fields that never appear in a change set.
var DefaultRedacted = []string{"created_at", "updated_at"}

// Subject is an audited entity.
type Subject interface {
	EntityID() uuid.UUID
	OrganizationID() uuid.UUID
	SubjectType() string
	// Attributes returns the persisted field values keyed by column name.
	Attributes() map[string]any
}

// Recorder writes activity log entries.
type Recorder struct {
	activity store.ActivityStore
	redacted []string
	now      func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithRedacted adds fields to exclude from change sets.
func WithRedacted(fields ...string) Option {
	return func(r *Recorder) {
		r.redacted = append(r.redacted, fields...)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a recorder appending to activity.
func NewRecorder(activity store.ActivityStore, opts ...Option) *Recorder {
	r := &Recorder{
		activity: activity,
		redacted: slices.Clone(DefaultRedacted),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Created records a created event.
func (r *Recorder) Created(ctx context.Context, actor *uuid.UUID, subject Subject) {
	r.record(ctx, actor, models.ActivityCreated, subject, subject.Attributes(), nil)
}

// Updated records an updated event when at least one persisted field changed between before
// and the subject's current attributes. Redacted fields count as changes but are not stored;
// when nothing survives redaction the entry is written with nil changes.
func (r *Recorder) Updated(ctx context.Context, actor *uuid.UUID, before map[string]any, subject Subject) {
	after := subject.Attributes()

	changes := Diff(before, after)
	if len(changes) == 0 {
		return
	}

	for _, field := range r.redacted {
		delete(changes, field)
	}
	if len(changes) == 0 {
		changes = nil
	}

	r.record(ctx, actor, models.ActivityUpdated, subject, after, changes)
}

// Deleted records a deleted event. The subject name is the pre-deletion snapshot.
func (r *Recorder) Deleted(ctx context.Context, actor *uuid.UUID, subject Subject) {
	r.record(ctx, actor, models.ActivityDeleted, subject, subject.Attributes(), nil)
}

func (r *Recorder) record(ctx context.Context, actor *uuid.UUID, event models.ActivityEvent, subject Subject, attrs map[string]any, changes models.Changes) {
	orgID := subject.OrganizationID()
	if orgID == uuid.Nil {
		log.Debug().
			Str("subject_type", subject.SubjectType()).
			Str("subject_id", subject.EntityID().String()).
			Msg("Skipping activity for subject without organization")
		return
	}

	activityID, err := uuid.NewV7()
	if err != nil {
		r.dropped(ctx, event, subject, fmt.Errorf("failed to generate activity ID: %w", err))
		return
	}

	entry := &models.ActivityLog{
		ActivityID:  activityID,
		OrgID:       orgID,
		UserID:      actor,
		Event:       event,
		SubjectType: subject.SubjectType(),
		SubjectID:   subject.EntityID(),
		SubjectName: SubjectName(attrs, subject.EntityID()),
		Changes:     changes,
		// storage keeps microseconds, the checksum must survive the round trip
		CreatedAt: r.now().UTC().Truncate(time.Microsecond),
	}

	entry.Checksum, err = Checksum(entry)
	if err != nil {
		r.dropped(ctx, event, subject, err)
		return
	}

	if err := r.activity.Append(ctx, entry); err != nil {
		r.dropped(ctx, event, subject, err)
		return
	}

	telemetry.GetMetrics().ActivityRecordedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event.String())))
}

func (r *Recorder) dropped(ctx context.Context, event models.ActivityEvent, subject Subject, err error) {
	telemetry.GetMetrics().ActivityDroppedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("event", event.String())))

	log.Error().
		Err(err).
		Str("event", event.String()).
		Str("subject_type", subject.SubjectType()).
		Str("subject_id", subject.EntityID().String()).
		Msg("Failed to record activity")
}

// Diff returns the fields whose values differ between before and after.
func Diff(before, after map[string]any) models.Changes {
	changes := models.Changes{}
	for field, newValue := range after {
		oldValue, existed := before[field]
		if existed && cmp.Equal(oldValue, newValue) {
			continue
		}
		changes[field] = models.Change{oldValue, newValue}
	}
	for field, oldValue := range before {
		if _, ok := after[field]; !ok {
			changes[field] = models.Change{oldValue, nil}
		}
	}
	return changes
}

// nameFields is the display name fallback chain.
var nameFields = []string{"name", "title", "full_name"}

// SubjectName picks the human readable label recorded with an event.
func SubjectName(attrs map[string]any, id uuid.UUID) string {
	for _, field := range nameFields {
		if s, ok := attrs[field].(string); ok && s != "" {
			return s
		}
	}
	return id.String()
}
