package cluster

import (
	"context"
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
	projectID := "cluster-test-" + uuid.NewString()
	t.Cleanup(func() { _ = repo.DeleteClusters(ctx, projectID) })

	clusters := []*models.Cluster{
		{RecordIDs: []models.RecordID{{LocalID: "1"}, {LocalID: "2"}}},
		{RecordIDs: []models.RecordID{{LocalID: "3"}}},
	}
	require.NoError(t, repo.AddClusters(ctx, projectID, clusters))
	assert.NotEmpty(t, clusters[0].ID)

	got, err := repo.ListClusters(ctx, projectID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, got[0].RecordIDs, 2)

	require.NoError(t, repo.DeleteClusters(ctx, projectID))
	got, err = repo.ListClusters(ctx, projectID)
	require.NoError(t, err)
	assert.Empty(t, got)
}
