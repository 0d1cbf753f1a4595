package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"driveguard/internal/model"
)

func TestJSONFileStore(t *testing.T) {
	s, err := OpenJSONFile(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestJSONFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "db.json")

	s, err := OpenJSONFile(path)
	require.NoError(t, err)
	org, err := s.CreateOrganization(ctx, "Fleet")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, model.User{Email: "a@b.c", Name: "A", PasswordHash: "secret-hash", OrganizationID: org.ID})
	require.NoError(t, err)
	v, err := s.CreateVideo(ctx, model.Video{OrganizationID: org.ID, Filename: "x.mp4", StoragePath: "videos/x.mp4"})
	require.NoError(t, err)
	_, err = s.UpsertAnalysis(ctx, model.VideoAnalysis{VideoID: v.ID, OverallScore: 80, Category: "Good"})
	require.NoError(t, err)
	_, err = s.EnqueueWebhook(ctx, org.ID, "", model.EventAnalysisCompleted, "http://h.test", "sek", []byte(`{"a":1}`))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	reopened, err := OpenJSONFile(path)
	require.NoError(t, err)
	u, err := reopened.GetUserByEmail(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "secret-hash", u.PasswordHash)
	a, err := reopened.GetAnalysisByVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, a.OverallScore)
	due, err := reopened.FetchDueWebhookDeliveries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sek", due[0].Secret)
	assert.Equal(t, []byte(`{"a":1}`), due[0].Payload)

	_, err = reopened.CreateOrganization(ctx, "Fleet")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestJSONFileRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := OpenJSONFile(path)
	assert.Error(t, err)
}
