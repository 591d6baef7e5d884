package retraining

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/matcher"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/selection"
	"github.com/Ramsey-B/clover/pkg/statemachine"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/store/memory"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

type fixture struct {
	stores   store.Stores
	manager  *lifecycle.Manager
	registry *matcher.Registry
	sm       *statemachine.Service
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := memory.New().Stores()
	manager := lifecycle.NewManager(stores.Pairs, testLogger, lifecycle.DefaultConfig())
	selector := selection.NewSelector(stores.Pairs, manager, testLogger, selection.DefaultConfig(), selection.WithRand(rand.New(rand.NewSource(3))))
	registry := matcher.NewRegistry(stores.Matchings, testLogger)
	_, err := registry.Save(context.Background(), "test", json.RawMessage(`{"type":"pairwise","attributes":["name"],"classifier":{"type":"threshold"}}`))
	require.NoError(t, err)

	sm := statemachine.NewService(testLogger, stores, manager, selector, registry, nil, nil, nil)
	return &fixture{
		stores:   stores,
		manager:  manager,
		registry: registry,
		sm:       sm,
		svc:      NewService(testLogger, sm, stores, manager, registry, nil, DefaultConfig()),
	}
}

func (f *fixture) project(t *testing.T, id string) {
	t.Helper()
	_, err := f.sm.CreateProject(context.Background(), models.CreateProjectRequest{
		ID: id, DatasetID: "d1", Method: "test", Interactive: true,
	})
	require.NoError(t, err)
}

func (f *fixture) addPairs(t *testing.T, projectID string, pairs ...*models.RecordPair) {
	t.Helper()
	_, err := f.manager.AddPairs(context.Background(), projectID, pairs)
	require.NoError(t, err)
}

func (f *fixture) threshold(t *testing.T, method string) matcher.ThresholdConfig {
	t.Helper()
	m, err := f.registry.Get(context.Background(), method)
	require.NoError(t, err)
	db, ok := m.(matcher.DatasetBased)
	require.True(t, ok)
	c, ok := db.Classifier().(*matcher.ThresholdClassifier)
	require.True(t, ok)
	return c.Config()
}

func (f *fixture) pairs(t *testing.T, projectID string, filter store.PairFilter) []*models.RecordPair {
	t.Helper()
	pairs, err := f.stores.Pairs.ListPairs(context.Background(), projectID, filter)
	require.NoError(t, err)
	return pairs
}

func pair(left, right string, grade models.MatchGrade, sim float64, props ...models.Property) *models.RecordPair {
	p := models.NewRecordPair(models.RecordID{LocalID: left}, models.RecordID{LocalID: right})
	p.Classification = grade
	p.Similarity = sim
	p.Properties.Add(props...)
	return p
}

func withMethodTag(p *models.RecordPair, method string) *models.RecordPair {
	p.Tags.Set(models.Tag{Key: models.TagEncodingMethod, StringValue: method})
	return p
}

type staticClassifier struct{}

func (staticClassifier) Classify(p *models.RecordPair)        { p.Classification = models.GradeNonMatch }
func (staticClassifier) Definition() (json.RawMessage, error) { return json.RawMessage(`{}`), nil }

type plainMatcher struct {
	matcher.Matcher
}

func (plainMatcher) Method() string { return "plain" }

func TestTrainMatcher_NotTrainable(t *testing.T) {
	f := newFixture(t)
	labelled := []*models.RecordPair{pair("1", "2", models.GradeCertainMatch, 0.9)}

	tests := []struct {
		name string
		m    matcher.Matcher
	}{
		{name: "not dataset based", m: plainMatcher{}},
		{name: "classifier not trainable", m: matcher.NewPairwiseMatcher("static", nil, staticClassifier{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.TrainMatcher(context.Background(), tt.m, false, labelled)
			require.NoError(t, err)
			assert.Equal(t, tt.m, got)
		})
	}
}

func TestTrainMatcher_FitError(t *testing.T) {
	f := newFixture(t)
	m, err := f.registry.Get(context.Background(), "test")
	require.NoError(t, err)

	p := pair("1", "2", models.GradeNonMatch, 0.2)
	p.AddLabelFromGrade()
	_, err = f.svc.TrainMatcher(context.Background(), m, false, []*models.RecordPair{p})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func labelledImproved() []*models.RecordPair {
	return []*models.RecordPair{
		pair("1", "2", models.GradeProbableMatch, 0.62, models.PropertyImprovedLink, models.PropertyNew),
		pair("3", "4", models.GradeCertainMatch, 0.9, models.PropertyImprovedLink, models.PropertyNew),
		pair("5", "6", models.GradeNonMatch, 0.3, models.PropertyImprovedLink, models.PropertyNew),
	}
}

func TestUpdateMatcher_Improved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "p1")
	f.addPairs(t, "p1", labelledImproved()...)
	f.addPairs(t, "p1", pair("7", "8", models.GradeNonMatch, 0.5))

	matching, err := f.svc.UpdateMatcher(ctx, "p1", models.UpdateImproved)
	require.NoError(t, err)
	assert.Equal(t, "test", matching.Method)

	cfg := f.threshold(t, "test")
	assert.InDelta(t, 0.5, cfg.Threshold, 1e-9)
	require.NotNil(t, cfg.Distribution)
	assert.Equal(t, 4, cfg.Distribution.Total())
	assert.Len(t, cfg.Labels, 3)

	for _, p := range f.pairs(t, "p1", store.PairFilter{Properties: []models.Property{models.PropertyImprovedLink}}) {
		assert.False(t, p.Properties.Has(models.PropertyNew))
		_, labelled := p.Label()
		assert.False(t, labelled)
	}
}

func TestUpdateMatcher_NewImproved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "p1")
	f.addPairs(t, "p1", labelledImproved()...)
	old := pair("7", "8", models.GradeCertainMatch, 0.99, models.PropertyImprovedLink)
	f.addPairs(t, "p1", old)

	_, err := f.svc.UpdateMatcher(ctx, "p1", models.UpdateNewImproved)
	require.NoError(t, err)

	cfg := f.threshold(t, "test")
	assert.InDelta(t, 0.62, cfg.Threshold, 1e-9)
	assert.Nil(t, cfg.Distribution)
	assert.Len(t, cfg.Labels, 3)
	assert.Empty(t, f.pairs(t, "p1", store.PairFilter{Properties: []models.Property{models.PropertyNew}}))
}

func TestUpdateMatcher_CROnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "p1")
	f.addPairs(t, "p1",
		withMethodTag(pair("1", "2", models.GradeProbableMatch, 0.7, models.PropertyImprovedLink), "PPCR/review"),
		withMethodTag(pair("3", "4", models.GradeNonMatch, 0.4, models.PropertyImprovedLink), "PPCR/review"),
		withMethodTag(pair("5", "6", models.GradeCertainMatch, 0.95, models.PropertyImprovedLink), "bloom"),
	)

	_, err := f.svc.UpdateMatcher(ctx, "p1", models.UpdateCROnly)
	require.NoError(t, err)
	assert.Len(t, f.threshold(t, "test").Labels, 2)
}

func TestUpdateMatcher_UpperImproved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "p1")
	f.addPairs(t, "p1", pair("1", "2", models.GradeNonMatch, 0.2))
	f.addPairs(t, "p1",
		pair("1", "2", models.GradeCertainMatch, 0.9, models.PropertyImprovedLink),
		pair("3", "4", models.GradePossibleMatch, 0.7, models.PropertyUnreportableLink),
		pair("5", "6", models.GradeNonMatch, 0.4),
	)

	_, err := f.svc.UpdateMatcher(ctx, "p1", models.UpdateUpperImproved)
	require.NoError(t, err)

	labels := f.threshold(t, "test").Labels
	require.Len(t, labels, 2)
	assert.Contains(t, labels, matcher.LabelledSimilarity{Similarity: 0.9, Match: true})
	assert.Contains(t, labels, matcher.LabelledSimilarity{Similarity: 0.7, Match: false})
}

func TestUpdateMatcher_UnknownStrategy(t *testing.T) {
	f := newFixture(t)
	f.project(t, "p1")

	_, err := f.svc.UpdateMatcher(context.Background(), "p1", models.MatcherUpdateType("BOGUS"))
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestDedupe(t *testing.T) {
	replaced := func(p *models.RecordPair) *models.RecordPair {
		p.Properties.Add(models.PropertyReplaced)
		return p
	}

	tests := []struct {
		name     string
		pairs    []*models.RecordPair
		expected []float64
	}{
		{
			name: "prefers current improved link",
			pairs: []*models.RecordPair{
				replaced(pair("1", "2", models.GradeNonMatch, 0.1, models.PropertyImprovedLink)),
				pair("1", "2", models.GradeCertainMatch, 0.9, models.PropertyImprovedLink),
				pair("1", "2", models.GradeNonMatch, 0.3, models.PropertyUnreportableLink),
			},
			expected: []float64{0.9},
		},
		{
			name: "falls back to unreportable link",
			pairs: []*models.RecordPair{
				replaced(pair("1", "2", models.GradeNonMatch, 0.1, models.PropertyImprovedLink)),
				replaced(pair("1", "2", models.GradeNonMatch, 0.3, models.PropertyUnreportableLink)),
			},
			expected: []float64{0.3},
		},
		{
			name: "keeps current versions",
			pairs: []*models.RecordPair{
				replaced(pair("1", "2", models.GradeNonMatch, 0.1)),
				pair("1", "2", models.GradeNonMatch, 0.4),
				pair("3", "4", models.GradeNonMatch, 0.5),
			},
			expected: []float64{0.4, 0.5},
		},
		{
			name:     "drops replaced only",
			pairs:    []*models.RecordPair{replaced(pair("1", "2", models.GradeNonMatch, 0.1))},
			expected: []float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dedupe(testLogger, tt.pairs)
			sims := make([]float64, len(got))
			for i, p := range got {
				sims[i] = p.Similarity
			}
			assert.Equal(t, tt.expected, sims)
		})
	}
}

func seedDataset(t *testing.T, f *fixture) {
	t.Helper()
	names := map[string][2]string{
		"1": {"b1", "anna"},
		"2": {"b1", "anna"},
		"3": {"b1", "annb"},
		"4": {"b2", "zed"},
		"5": {"b2", "quux"},
	}
	records := make([]*models.Record, 0, len(names))
	for id, v := range names {
		records = append(records, &models.Record{
			ID:         models.RecordID{LocalID: id, BlockID: v[0]},
			Attributes: map[string]string{"name": v[1]},
			Properties: models.PropertySet{},
		})
	}
	require.NoError(t, f.stores.Records.UpsertRecords(context.Background(), "d1", records))
}

func rid(id string) models.RecordID {
	return models.RecordID{LocalID: id}
}

func TestTrainWithGroundTruth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedDataset(t, f)
	require.NoError(t, f.stores.GroundTruth.SaveGroundTruth(ctx, models.NewGroundTruth("d1", []models.RecordIDPair{
		{Left: rid("1"), Right: rid("3")},
	})))

	matching, err := f.svc.TrainWithGroundTruth(ctx, models.MatcherTrainingRequest{Method: "test", DatasetID: "d1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(matching.Method, "test/trained/d1/"))

	cfg := f.threshold(t, matching.Method)
	assert.Len(t, cfg.Labels, 2)
	assert.InDelta(t, 2.0/3.0, cfg.Threshold, 1e-9)
	assert.Equal(t, 0.8, f.threshold(t, "test").Threshold)

	projects, err := f.sm.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestTrainWithGroundTruth_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing ground truth", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.TrainWithGroundTruth(ctx, models.MatcherTrainingRequest{Method: "test", DatasetID: "d1"})
		assert.True(t, models.IsNotFound(err))
	})

	t.Run("training fails and cleans up", func(t *testing.T) {
		f := newFixture(t)
		seedDataset(t, f)
		require.NoError(t, f.stores.GroundTruth.SaveGroundTruth(ctx, models.NewGroundTruth("d1", []models.RecordIDPair{
			{Left: rid("4"), Right: rid("5")},
		})))

		_, err := f.svc.TrainWithGroundTruth(ctx, models.MatcherTrainingRequest{Method: "test", DatasetID: "d1"})
		require.Error(t, err)

		projects, err := f.sm.ListProjects(ctx)
		require.NoError(t, err)
		assert.Empty(t, projects)
		matchings, err := f.registry.List(ctx)
		require.NoError(t, err)
		require.Len(t, matchings, 1)
		assert.Equal(t, "test", matchings[0].Method)
	})
}

func TestReclassify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.project(t, "p1")

	removed := pair("1", "2", models.GradeNonMatch, 0.99, models.PropertyNew)
	removed.Tags.Set(models.NewTag(models.TagRemovedByClassifier))
	improved := pair("3", "4", models.GradeNonMatch, 0.95, models.PropertyImprovedLink)
	f.addPairs(t, "p1", removed, improved)

	require.NoError(t, f.svc.Reclassify(ctx, "p1"))

	byID := map[string]*models.RecordPair{}
	for _, p := range f.pairs(t, "p1", store.PairFilter{}) {
		byID[p.PairID] = p
	}
	got := byID[removed.PairID]
	assert.Equal(t, models.GradeCertainMatch, got.Classification)
	assert.True(t, got.Properties.Has(models.PropertyActive))
	assert.False(t, got.Properties.Has(models.PropertyNew))
	assert.False(t, got.Tags.Has(models.TagRemovedByClassifier))
	assert.Equal(t, models.GradeNonMatch, byID[improved.PairID].Classification)
}
