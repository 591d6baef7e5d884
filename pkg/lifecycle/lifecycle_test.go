package lifecycle

import (
	"context"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/store/memory"
)

const projectID = "project-1"

func newTestManager() (*Manager, *memory.Store) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	mem := memory.New()
	return NewManager(mem, logger, DefaultConfig()), mem
}

func pair(left, right string, sim float64, grade models.MatchGrade) *models.RecordPair {
	p := models.NewRecordPair(models.RecordID{LocalID: left}, models.RecordID{LocalID: right})
	p.Similarity = sim
	p.Classification = grade
	return p
}

func allVersions(t *testing.T, mem *memory.Store) []*models.RecordPair {
	pairs, err := mem.ListPairs(context.Background(), projectID, store.PairFilter{IncludeReplaced: true})
	require.NoError(t, err)
	return pairs
}

func currentByPairID(pairs []*models.RecordPair) map[string]int {
	counts := map[string]int{}
	for _, p := range pairs {
		if p.IsCurrent() {
			counts[p.PairID]++
		}
	}
	return counts
}

func TestManager_Replace(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()

	first, err := m.AddPairs(ctx, projectID, []*models.RecordPair{
		pair("1", "2", 0.9, models.GradeProbableMatch),
		pair("3", "4", 0.2, models.GradeNonMatch),
	})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.NotEmpty(t, first[0].ID)

	t.Run("retires the previous version", func(t *testing.T) {
		update := pair("2", "1", 0.95, models.GradeCertainMatch)
		update.Properties.Add(models.PropertyUnreportableLink)

		replaced, err := m.Replace(ctx, projectID, []*models.RecordPair{update})
		require.NoError(t, err)
		require.Len(t, replaced, 1)
		assert.False(t, replaced[0].Properties.Has(models.PropertyUnreportableLink))

		versions := allVersions(t, mem)
		assert.Len(t, versions, 3)
		for id, n := range currentByPairID(versions) {
			assert.Equal(t, 1, n, id)
		}
		for _, v := range versions {
			if v.ID == first[0].ID {
				assert.True(t, v.Properties.Has(models.PropertyReplaced))
				assert.False(t, v.Properties.Has(models.PropertyActive))
			}
		}
	})

	t.Run("add keeps the unreportable flag", func(t *testing.T) {
		fetched := pair("3", "4", 0.5, models.GradePossibleMatch)
		fetched.Properties.Add(models.PropertyUnreportableLink)

		added, err := m.AddPairs(ctx, projectID, []*models.RecordPair{fetched})
		require.NoError(t, err)
		assert.True(t, added[0].Properties.Has(models.PropertyUnreportableLink))
		for id, n := range currentByPairID(allVersions(t, mem)) {
			assert.Equal(t, 1, n, id)
		}
	})

	t.Run("duplicate pair ids in one batch keep the last", func(t *testing.T) {
		out, err := m.Replace(ctx, projectID, []*models.RecordPair{
			pair("5", "6", 0.1, models.GradeNonMatch),
			pair("6", "5", 0.7, models.GradePossibleMatch),
		})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, 0.7, out[0].Similarity)
	})
}

func TestManager_MergeUpdated(t *testing.T) {
	ctx := context.Background()

	t.Run("negations cancel and unrelated flags survive", func(t *testing.T) {
		m, mem := newTestManager()
		existing := pair("1", "2", 0.8, models.GradeProbableMatch)
		existing.AttributeSimilarities = map[string]float64{"name": 0.5}
		_, err := m.AddPairs(ctx, projectID, []*models.RecordPair{existing})
		require.NoError(t, err)

		updated := pair("1", "2", 0, models.GradeCertainMatch)
		updated.Properties = models.NewPropertySet("FOO", "!FOO", models.PropertyImprovedLink, models.PropertyActive)
		updated.Tags = models.NewTags(models.NewTag(models.TagEncodingMethod))

		merged, err := m.MergeUpdated(ctx, projectID, []*models.RecordPair{updated})
		require.NoError(t, err)
		require.Len(t, merged, 1)

		got := merged[0]
		assert.False(t, got.Properties.Has("FOO"))
		assert.False(t, got.Properties.Has("!FOO"))
		assert.True(t, got.Properties.HasAll(models.PropertyImprovedLink, models.PropertyActive))
		assert.Equal(t, models.GradeCertainMatch, got.Classification)
		assert.Equal(t, 0.8, got.Similarity)
		assert.Equal(t, 0.5, got.AttributeSimilarities["name"])
		assert.True(t, got.Tags.Has(models.TagEncodingMethod))
		assert.Len(t, allVersions(t, mem), 2)
	})

	t.Run("low grades are removed by the classifier", func(t *testing.T) {
		m, _ := newTestManager()
		_, err := m.AddPairs(ctx, projectID, []*models.RecordPair{pair("1", "2", 0.8, models.GradeProbableMatch)})
		require.NoError(t, err)

		merged, err := m.MergeUpdated(ctx, projectID, []*models.RecordPair{pair("1", "2", 0.8, models.GradePossibleMatch)})
		require.NoError(t, err)
		require.Len(t, merged, 1)
		assert.True(t, merged[0].Tags.Has(models.TagRemovedByClassifier))
		assert.False(t, merged[0].Properties.Has(models.PropertyActive))
	})

	t.Run("updates without a current version are ignored", func(t *testing.T) {
		m, mem := newTestManager()
		merged, err := m.MergeUpdated(ctx, projectID, []*models.RecordPair{pair("8", "9", 1, models.GradeCertainMatch)})
		require.NoError(t, err)
		assert.Empty(t, merged)
		assert.Empty(t, allVersions(t, mem))
	})
}

func TestManager_MergeNewImproved(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	_, err := m.AddPairs(ctx, projectID, []*models.RecordPair{
		pair("1", "2", 0.8, models.GradeProbableMatch),
		pair("3", "4", 0.6, models.GradePossibleMatch),
	})
	require.NoError(t, err)

	improved := pair("1", "2", 0.8, models.GradeCertainMatch)
	improved.Properties.Add(models.PropertyImprovedLink)
	first, err := m.MergeNewImproved(ctx, projectID, []*models.RecordPair{improved})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].Properties.Has(models.PropertyNew))
	count, ok := first[0].Tags.Get(models.TagImprovedLinkCount)
	require.True(t, ok)
	assert.Equal(t, 1.0, *count.NumericValue)

	improved = pair("3", "4", 0.6, models.GradeNonMatch)
	improved.Properties.Add(models.PropertyImprovedLink)
	second, err := m.MergeNewImproved(ctx, projectID, []*models.RecordPair{improved})
	require.NoError(t, err)
	count, _ = second[0].Tags.Get(models.TagImprovedLinkCount)
	assert.Equal(t, 2.0, *count.NumericValue)
}

func TestManager_ClearProperty(t *testing.T) {
	ctx := context.Background()
	m, mem := newTestManager()
	p := pair("1", "2", 0.8, models.GradeProbableMatch)
	p.Properties.Add(models.PropertyUncertainLink)
	_, err := m.AddPairs(ctx, projectID, []*models.RecordPair{p, pair("3", "4", 0.1, models.GradeNonMatch)})
	require.NoError(t, err)

	require.NoError(t, m.ClearProperty(ctx, projectID, models.PropertyUncertainLink))

	flagged, err := mem.ListPairs(ctx, projectID, store.PairFilter{Properties: []models.Property{models.PropertyUncertainLink}})
	require.NoError(t, err)
	assert.Empty(t, flagged)
	assert.Len(t, allVersions(t, mem), 2)
}
