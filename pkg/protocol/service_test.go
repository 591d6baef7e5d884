package protocol

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestFetchUncertainFromParent_ClearsNewOnlyOnPairedRecords(t *testing.T) {
	tests := []struct {
		name          string
		seed          func(t *testing.T, f *fixture, remote *models.RecordPair)
		expectedNew   []string
		expectedFetch int
		expectedTotal int
	}{
		{
			name: "lone record waits for its partner",
			seed: func(t *testing.T, f *fixture, remote *models.RecordPair) {
				seedEscalated(t, f, "d2", remote.PairID, "a", "b")
				seedEscalated(t, f, "d2", "pending-block", "z")
			},
			expectedNew:   []string{"z"},
			expectedFetch: 1,
			expectedTotal: 3,
		},
		{
			name: "formed pair without a parent match is consumed",
			seed: func(t *testing.T, f *fixture, remote *models.RecordPair) {
				seedEscalated(t, f, "d2", remote.PairID, "a", "b")
				seedEscalated(t, f, "d2", models.PairID(rid("c"), rid("d")), "c", "d")
			},
			expectedNew:   nil,
			expectedFetch: 1,
			expectedTotal: 4,
		},
		{
			name: "oversized block keeps its records",
			seed: func(t *testing.T, f *fixture, remote *models.RecordPair) {
				seedEscalated(t, f, "d2", remote.PairID, "a", "b")
				seedEscalated(t, f, "d2", "crowded", "x", "y", "w")
			},
			expectedNew:   []string{"w", "x", "y"},
			expectedFetch: 1,
			expectedTotal: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, nil)
			f.project(t, "parent", "d1", nil)
			f.project(t, "child", "d2", map[string]string{models.ConfigProjectIDToReportTo: "parent"})

			remote := pair("b", "a", models.GradePossibleMatch, 0.6, models.PropertyUncertainLink)
			f.addPairs(t, "parent", remote)
			tt.seed(t, f, remote)

			n, err := f.svc.FetchUncertainFromParent(ctx, "child")
			require.NoError(t, err)
			assert.Equal(t, tt.expectedFetch, n)

			records, err := f.stores.Records.ListRecordsWithProperty(ctx, "d2", models.PropertyNew)
			require.NoError(t, err)
			var ids []string
			for _, r := range records {
				ids = append(ids, r.ID.LocalID)
			}
			assert.ElementsMatch(t, tt.expectedNew, ids)

			all, err := f.stores.Records.ListRecords(ctx, "d2")
			require.NoError(t, err)
			assert.Len(t, all, tt.expectedTotal)
		})
	}
}
