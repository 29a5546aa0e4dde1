package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodglow-backend/internal/logging"
	"foodglow-backend/internal/models"
)

type memoryObjectStore struct {
	objects map[string]string
	fail    bool
}

func (m *memoryObjectStore) Upload(_ context.Context, key string, _ []byte, contentType string) (string, error) {
	if m.fail {
		return "", errors.New("access denied")
	}
	m.objects[key] = contentType
	return "https://cdn.example.com/" + key, nil
}

func TestArchiveJob(t *testing.T) {
	objects := &memoryObjectStore{objects: map[string]string{}}
	svc := NewStorageService(objects, logging.Discard())
	jobID := uuid.New()
	id := models.TrialIdentity("maria@example.com")

	url, err := svc.ArchiveJob(context.Background(), jobID, id, pngBytes, jpegBytes)
	require.NoError(t, err)

	prefix := JobStoragePrefix(jobID, id)
	assert.Equal(t, "https://cdn.example.com/"+prefix+"/enhanced.jpg", url)
	assert.Equal(t, "image/png", objects.objects[prefix+"/original.png"])
	assert.Equal(t, "image/jpeg", objects.objects[prefix+"/enhanced.jpg"])
	assert.NotContains(t, prefix, "maria")
	assert.True(t, strings.HasSuffix(prefix, jobID.String()))
}

func TestArchiveJob_UploadError(t *testing.T) {
	svc := NewStorageService(&memoryObjectStore{fail: true}, logging.Discard())

	_, err := svc.ArchiveJob(context.Background(), uuid.New(), models.AccountIdentity("acct-1"), pngBytes, pngBytes)
	assert.ErrorContains(t, err, "failed to archive original")
}
