package groundtruth

import (
	"context"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
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
	datasetID := "gt-test-" + uuid.NewString()

	_, err := repo.GetGroundTruth(ctx, datasetID)
	assert.True(t, models.IsNotFound(err))

	a := models.RecordID{LocalID: "1", SourceID: "A"}
	b := models.RecordID{LocalID: "1", SourceID: "B"}
	gt := models.NewGroundTruth(datasetID, []models.RecordIDPair{{Left: a, Right: b}})
	require.NoError(t, repo.SaveGroundTruth(ctx, gt))

	got, err := repo.GetGroundTruth(ctx, datasetID)
	require.NoError(t, err)
	assert.True(t, got.IsTrueMatch(models.PairID(b, a)))

	err = repo.SaveGroundTruth(ctx, gt)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))
}
