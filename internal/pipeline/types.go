package pipeline

import (
	"path"
	"strings"
	"unicode/utf8"

	"github.com/andresuchdata/parquetwrite/internal/domain"
)

// Default property names read from the upstream entry.
const (
	DefaultBucketField   = "source_bucket"
	DefaultPathField     = "source_path"
	DefaultRowCountField = "expected_row_count"

	statusField = "status"
	jobIDField  = "job_id"
)

// JobQuery selects the upstream entry to convert.
type JobQuery struct {
	Namespace string
	Filter    map[string]any
	// Property names on the upstream entry. Empty means the defaults above.
	BucketField   string
	PathField     string
	RowCountField string
	// OrderField, when set, picks the successful entry with the largest value.
	OrderField string
	// ReportName and ReportDate only label ConfigNotFound errors.
	ReportName string
	ReportDate string
}

func (q JobQuery) withDefaults() JobQuery {
	if q.BucketField == "" {
		q.BucketField = DefaultBucketField
	}
	if q.PathField == "" {
		q.PathField = DefaultPathField
	}
	if q.RowCountField == "" {
		q.RowCountField = DefaultRowCountField
	}
	return q
}

// Request is one pipeline invocation.
type Request struct {
	Identity       domain.TaskIdentity
	UpstreamTaskID string
	ReportName     string
	ReportDate     string
	ReportType     string
	Query          JobQuery
	Schema         domain.Schema
	Delimiter      rune
	Format         domain.Format
	OutputBucket   string
	// OutputPath is the destination object path, or its directory when
	// OutputFileName is set.
	OutputPath     string
	OutputFileName string
	Mode           domain.RunMode
}

// Validate checks everything that can be checked before any I/O.
func (r Request) Validate() error {
	if err := r.Identity.Validate(); err != nil {
		return err
	}
	if err := r.Schema.Validate(); err != nil {
		return err
	}
	if r.Delimiter == 0 {
		return domain.NewError(domain.KindInvalidSchema, "delimiter must be set")
	}
	if strings.TrimSpace(r.Query.Namespace) == "" {
		return domain.NewError(domain.KindInvalidSchema, "query namespace must be set")
	}
	if strings.TrimSpace(r.OutputBucket) == "" || strings.TrimSpace(r.OutputObject()) == "" {
		return domain.NewError(domain.KindInvalidSchema, "output bucket and path must be set")
	}
	if _, err := domain.ParseRunMode(string(r.Mode)); err != nil {
		return err
	}
	return nil
}

// OutputObject is the object path the artifact is published to.
func (r Request) OutputObject() string {
	p := strings.TrimLeft(r.OutputPath, "/")
	if r.OutputFileName == "" {
		return p
	}
	return path.Join(p, r.OutputFileName)
}

// ParseDelimiter accepts a single character, or one of the names tab,
// comma, pipe and semicolon. A literal `\t` also means tab.
func ParseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "tab", `\t`:
		return '\t', nil
	case "comma":
		return ',', nil
	case "pipe":
		return '|', nil
	case "semicolon":
		return ';', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, domain.NewError(domain.KindInvalidSchema, "delimiter %q must be a single character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
