package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/andresuchdata/parquetwrite/internal/metadata"
	"github.com/rs/zerolog"
)

// Locator resolves the upstream entry a run converts.
type Locator struct {
	store metadata.Store
	log   zerolog.Logger
}

func NewLocator(store metadata.Store, log zerolog.Logger) *Locator {
	return &Locator{store: store, log: log}
}

// Locate returns the first successful entry matching q. Without q.OrderField
// the store's order decides which one is first.
func (l *Locator) Locate(ctx context.Context, q JobQuery) (domain.JobEntry, error) {
	q = q.withDefaults()
	log := l.log.With().Str("namespace", q.Namespace).Interface("filter", q.Filter).Logger()

	entities, err := l.store.Query(ctx, q.Namespace, q.Filter)
	if err != nil {
		log.Error().Err(err).Msg("upstream query failed")
		return domain.JobEntry{}, domain.WrapError(domain.KindStorageUnreachable, err, "query %s", q.Namespace)
	}

	successful := make([]domain.Entity, 0, len(entities))
	for _, e := range entities {
		if s, _ := e.Properties[statusField].(string); s == string(domain.StatusSuccess) {
			successful = append(successful, e)
		}
	}
	if len(successful) == 0 {
		err := domain.NewError(domain.KindConfigNotFound, "no successful entry in %s for report %q dated %q, filter %s (%d entries matched)",
			q.Namespace, q.ReportName, q.ReportDate, describeFilter(q.Filter), len(entities))
		log.Error().Err(err).Msg("upstream entry not found")
		return domain.JobEntry{}, err
	}

	if q.OrderField != "" {
		sort.SliceStable(successful, func(i, j int) bool {
			return after(successful[i].Properties[q.OrderField], successful[j].Properties[q.OrderField])
		})
	}
	if len(successful) > 1 {
		log.Warn().Int("candidates", len(successful)).Str("order_field", q.OrderField).Msg("several successful entries, taking the first")
	}

	selected := successful[0]
	entry := domain.JobEntry{
		Key:          selected.Key,
		Status:       string(domain.StatusSuccess),
		SourceBucket: stringProperty(selected.Properties[q.BucketField]),
		SourcePath:   stringProperty(selected.Properties[q.PathField]),
		JobID:        stringProperty(selected.Properties[jobIDField]),
		Properties:   selected.Properties,
	}

	if entry.SourcePath == "" || entry.SourceBucket == "" {
		err := domain.NewError(domain.KindSourceNotFound, "entry %s in %s has no %s/%s", selected.Key, q.Namespace, q.BucketField, q.PathField)
		log.Error().Err(err).Msg("upstream entry has no source location")
		return domain.JobEntry{}, err
	}

	count, err := rowCount(selected.Properties[q.RowCountField])
	if err != nil {
		err = domain.WrapError(domain.KindInvalidSchema, err, "entry %s field %s", selected.Key, q.RowCountField)
		log.Error().Err(err).Msg("upstream row count unreadable")
		return domain.JobEntry{}, err
	}
	entry.ExpectedRowCount = count

	log.Info().
		Str("entry", entry.Key).
		Str("bucket", entry.SourceBucket).
		Str("path", entry.SourcePath).
		Str("job_id", entry.JobID).
		Msg("located upstream entry")
	return entry, nil
}

func describeFilter(filter map[string]any) string {
	raw, err := json.Marshal(filter)
	if err != nil {
		return fmt.Sprint(filter)
	}
	return string(raw)
}

// stringProperty renders scalar properties; integral numbers print without a fraction.
func stringProperty(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// rowCount accepts integral numbers and numeric strings. Missing is nil.
func rowCount(v any) (*int64, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case float64:
		if x != math.Trunc(x) || x < 0 {
			return nil, fmt.Errorf("%v is not a row count", x)
		}
		n := int64(x)
		return &n, nil
	case int64:
		return &x, nil
	case int:
		n := int64(x)
		return &n, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%q is not a row count", x)
		}
		return &n, nil
	}
	return nil, fmt.Errorf("%v (%T) is not a row count", v, v)
}

// after orders values descending; numbers compare numerically, everything
// else as text. Missing values sort last.
func after(a, b any) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	fa, aNum := a.(float64)
	fb, bNum := b.(float64)
	if aNum && bNum {
		return fa > fb
	}
	return stringProperty(a) > stringProperty(b)
}
