package convert

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/rs/zerolog"
)

const partialSuffix = ".partial"

type writeFunc func(w io.Writer, table *Table) error

var writers = map[domain.Format]writeFunc{
	domain.FormatColumnar:      writeParquet,
	domain.FormatDelimitedText: writeCSV,
	domain.FormatSpreadsheet:   writeXLSX,
}

// Converter turns a staged delimited file into one target format.
type Converter struct {
	log    zerolog.Logger
	policy TimestampPolicy
}

func NewConverter(log zerolog.Logger, policy TimestampPolicy) *Converter {
	if policy == "" {
		policy = TimestampTruncate
	}
	return &Converter{
		log:    log.With().Str("component", "converter").Logger(),
		policy: policy,
	}
}

// Convert parses req.SourceFile and writes the target format to localOutput.
// Output is written to a sibling .partial file and renamed only on success.
func (c *Converter) Convert(ctx context.Context, req domain.ConversionRequest, localOutput string) (domain.ConversionResult, error) {
	log := c.log.With().Str("source", req.SourceFile).Str("format", string(req.Format)).Logger()

	format, err := domain.ParseFormat(string(req.Format))
	if err != nil {
		log.Error().Err(err).Msg("target format rejected")
		return domain.ConversionResult{}, err
	}
	write := writers[format]

	if err := req.Schema.Validate(); err != nil {
		log.Error().Err(err).Msg("schema rejected")
		return domain.ConversionResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return domain.ConversionResult{}, err
	}

	table, err := c.readSource(req)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse source")
		return domain.ConversionResult{}, err
	}

	if err := ctx.Err(); err != nil {
		return domain.ConversionResult{}, err
	}

	if err := writeAtomically(localOutput, func(w io.Writer) error { return write(w, table) }); err != nil {
		log.Error().Err(err).Str("output", localOutput).Msg("failed to write output")
		return domain.ConversionResult{}, err
	}

	log.Info().
		Int64("row_count", table.RowCount()).
		Str("output", localOutput).
		Msg("converted source")

	return domain.ConversionResult{RowCount: table.RowCount(), LocalArtifactPath: localOutput}, nil
}

func (c *Converter) readSource(req domain.ConversionRequest) (*Table, error) {
	in, err := os.Open(req.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", req.SourceFile, err)
	}
	defer in.Close()

	table, stats, err := ReadTable(bufio.NewReader(in), req.Schema, req.Delimiter, c.policy)
	if err != nil {
		return nil, err
	}
	if stats.TruncatedTimestamps > 0 {
		c.log.Warn().
			Str("source", req.SourceFile).
			Int("truncated_timestamps", stats.TruncatedTimestamps).
			Msg("timestamps truncated to microsecond precision")
	}
	return table, nil
}

// writeAtomically writes through a .partial file that is removed on failure.
func writeAtomically(dest string, write func(w io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	partial := dest + partialSuffix
	out, err := os.Create(partial)
	if err != nil {
		return fmt.Errorf("create %s: %w", partial, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(partial)
		}
	}()

	buf := bufio.NewWriter(out)
	if err = write(buf); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", partial, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", partial, err)
	}
	if err = os.Rename(partial, dest); err != nil {
		return fmt.Errorf("rename %s: %w", partial, err)
	}
	return nil
}
