package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/andresuchdata/parquetwrite/internal/metadata"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Clock supplies the current time to the recorder.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock always returns T.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// Recorder upserts task outcome records keyed by (workflow_id, run_id, task_id).
type Recorder struct {
	store  metadata.Store
	clock  Clock
	newKey func() string
	log    zerolog.Logger
}

func NewRecorder(store metadata.Store, clock Clock, log zerolog.Logger) *Recorder {
	if clock == nil {
		clock = RealClock{}
	}
	return &Recorder{store: store, clock: clock, newKey: uuid.NewString, log: log}
}

// Record stores rec under its identity. An existing record keeps its key and
// created_at; modified_at always moves forward.
func (r *Recorder) Record(ctx context.Context, namespace string, rec domain.TaskStatusRecord) (domain.TaskStatusRecord, error) {
	id := rec.Identity()
	log := r.log.With().
		Str("namespace", namespace).
		Str("workflow_id", id.WorkflowID).
		Str("run_id", id.RunID).
		Str("task_id", id.TaskID).
		Logger()

	existing, err := r.store.Query(ctx, namespace, id.Filter())
	if err != nil {
		log.Error().Err(err).Msg("status lookup failed")
		return rec, domain.WrapError(domain.KindStorageUnreachable, err, "look up status record")
	}

	now := r.clock.Now().UTC().Truncate(time.Microsecond)
	key := r.newKey()
	created := now

	if len(existing) > 0 {
		if len(existing) > 1 {
			log.Warn().Int("records", len(existing)).Msg("duplicate status records, updating the first")
		}
		key = existing[0].Key
		prev, err := domain.TaskStatusRecordFromProperties(existing[0].Properties)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("existing status record unreadable, overwriting")
		} else {
			if !prev.CreatedAt.IsZero() {
				created = prev.CreatedAt
			}
			if !now.After(prev.ModifiedAt) {
				now = prev.ModifiedAt.Add(time.Microsecond)
			}
		}
	}

	rec.CreatedAt = created
	rec.ModifiedAt = now

	props, err := rec.ToProperties()
	if err != nil {
		return rec, err
	}
	if err := r.store.Put(ctx, namespace, domain.Entity{Key: key, Properties: props}); err != nil {
		log.Error().Err(err).Str("key", key).Msg("status write failed")
		return rec, domain.WrapError(domain.KindStorageUnreachable, err, "write status record")
	}

	log.Info().Str("key", key).Str("status", string(rec.Status)).Bool("updated", len(existing) > 0).Msg("recorded task status")
	return rec, nil
}

// Find returns the stored record for id, if any.
func (r *Recorder) Find(ctx context.Context, namespace string, id domain.TaskIdentity) (domain.TaskStatusRecord, bool, error) {
	existing, err := r.store.Query(ctx, namespace, id.Filter())
	if err != nil {
		return domain.TaskStatusRecord{}, false, domain.WrapError(domain.KindStorageUnreachable, err, "look up status record")
	}
	if len(existing) == 0 {
		return domain.TaskStatusRecord{}, false, nil
	}
	rec, err := domain.TaskStatusRecordFromProperties(existing[0].Properties)
	if err != nil {
		return domain.TaskStatusRecord{}, false, err
	}
	return rec, true, nil
}
