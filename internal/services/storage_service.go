package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"foodglow-backend/internal/models"
)

// ObjectStore is a bucket that returns a URL for what it stores. Both the
// Supabase storage client and the S3 archive implement it.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type StorageService struct {
	store  ObjectStore
	logger *slog.Logger
}

func NewStorageService(store ObjectStore, logger *slog.Logger) *StorageService {
	return &StorageService{store: store, logger: logger}
}

// ArchiveJob uploads the original and the delivered image of a billed job
// and returns the URL of the delivered one.
func (s *StorageService) ArchiveJob(ctx context.Context, jobID uuid.UUID, id models.Identity, original, result []byte) (string, error) {
	prefix := JobStoragePrefix(jobID, id)

	if _, err := s.upload(ctx, prefix+"/original", original); err != nil {
		return "", fmt.Errorf("failed to archive original: %w", err)
	}

	url, err := s.upload(ctx, prefix+"/enhanced", result)
	if err != nil {
		return "", fmt.Errorf("failed to archive result: %w", err)
	}

	s.logger.Debug("job archived", "job_id", jobID, "prefix", prefix)
	return url, nil
}

func (s *StorageService) upload(ctx context.Context, key string, data []byte) (string, error) {
	mt := mimetype.Detect(data)
	return s.store.Upload(ctx, key+mt.Extension(), data, mt.String())
}

// JobStoragePrefix is jobs/{identity digest}/{job id}. The digest keeps
// emails out of object keys.
func JobStoragePrefix(jobID uuid.UUID, id models.Identity) string {
	sum := sha256.Sum256([]byte(id.String()))
	return fmt.Sprintf("jobs/%s/%s", hex.EncodeToString(sum[:8]), jobID.String())
}
