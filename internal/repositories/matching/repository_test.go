package matching

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/repositories/repotest"
	"github.com/Ramsey-B/clover/pkg/models"
)

func TestRepository(t *testing.T) {
	db := repotest.Open(t)
	repo := NewRepository(db, repotest.Logger())
	ctx := context.Background()
	method := "matching-test-" + uuid.NewString()
	t.Cleanup(func() { _ = repo.DeleteMatching(ctx, method) })

	require.NoError(t, repo.SaveMatching(ctx, &models.Matching{Method: method, Config: json.RawMessage(`{"threshold":0.8}`)}))
	require.NoError(t, repo.SaveMatching(ctx, &models.Matching{Method: method, Config: json.RawMessage(`{"threshold":0.7}`)}))

	got, err := repo.GetMatching(ctx, method)
	require.NoError(t, err)
	assert.JSONEq(t, `{"threshold":0.7}`, string(got.Config))
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	require.NoError(t, repo.DeleteMatching(ctx, method))
	_, err = repo.GetMatching(ctx, method)
	assert.True(t, models.IsNotFound(err))
}
