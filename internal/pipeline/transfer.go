package pipeline

import (
	"context"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/andresuchdata/parquetwrite/internal/storage"
	"github.com/rs/zerolog"
)

// Stager pulls the source object into local staging.
type Stager struct {
	storage storage.Provider
	log     zerolog.Logger
}

func NewStager(provider storage.Provider, log zerolog.Logger) *Stager {
	return &Stager{storage: provider, log: log}
}

// Stage downloads bucket/objectPath to localName and returns the local path.
// The caller owns and removes the file.
func (s *Stager) Stage(ctx context.Context, bucket, objectPath, localName string) (string, error) {
	local, err := s.storage.Download(ctx, bucket, objectPath, localName)
	if err != nil {
		s.log.Error().Err(err).Str("bucket", bucket).Str("path", objectPath).Msg("failed to stage source")
		return "", domain.WrapError(domain.KindStorageUnreachable, err, "download %s/%s", bucket, objectPath)
	}
	s.log.Info().Str("bucket", bucket).Str("path", objectPath).Str("local", local).Msg("staged source")
	return local, nil
}

// Publisher pushes a converted artifact to object storage. There is no
// checksum verification after upload.
type Publisher struct {
	storage storage.Provider
	log     zerolog.Logger
}

func NewPublisher(provider storage.Provider, log zerolog.Logger) *Publisher {
	return &Publisher{storage: provider, log: log}
}

func (p *Publisher) Publish(ctx context.Context, localPath, bucket, objectPath string) error {
	if err := p.storage.Upload(ctx, localPath, bucket, objectPath); err != nil {
		p.log.Error().Err(err).Str("bucket", bucket).Str("path", objectPath).Msg("failed to publish artifact")
		return domain.WrapError(domain.KindStorageUnreachable, err, "upload %s/%s", bucket, objectPath)
	}
	p.log.Info().Str("bucket", bucket).Str("path", objectPath).Msg("published artifact")
	return nil
}
