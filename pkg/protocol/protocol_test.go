package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
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

type fixture struct {
	stores  store.Stores
	manager *lifecycle.Manager
	wishes  *WishService
	sm      *statemachine.Service
	svc     *Service
}

func newFixture(t *testing.T, parent Parent) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

	stores := memory.New().Stores()
	manager := lifecycle.NewManager(stores.Pairs, logger, lifecycle.DefaultConfig())
	selector := selection.NewSelector(stores.Pairs, manager, logger, selection.DefaultConfig(), selection.WithRand(rand.New(rand.NewSource(1))))
	registry := matcher.NewRegistry(stores.Matchings, logger)
	_, err := registry.Save(ctx, "test", json.RawMessage(`{"type":"pairwise","attributes":["name"],"classifier":{"type":"threshold"}}`))
	require.NoError(t, err)

	wishes := NewWishService(stores.Wishes, logger, DefaultConfig())
	sm := statemachine.NewService(logger, stores, manager, selector, registry, wishes, nil, nil)
	return &fixture{
		stores:  stores,
		manager: manager,
		wishes:  wishes,
		sm:      sm,
		svc:     NewService(logger, sm, stores, manager, selector, wishes, parent, nil, DefaultConfig()),
	}
}

func (f *fixture) project(t *testing.T, id, dataset string, config map[string]string) *models.LinkageProject {
	t.Helper()
	project, err := f.sm.CreateProject(context.Background(), models.CreateProjectRequest{
		ID:          id,
		DatasetID:   dataset,
		Method:      "test",
		Interactive: true,
		Config:      config,
	})
	require.NoError(t, err)
	return project
}

func (f *fixture) addPairs(t *testing.T, projectID string, pairs ...*models.RecordPair) {
	t.Helper()
	_, err := f.manager.AddPairs(context.Background(), projectID, pairs)
	require.NoError(t, err)
}

func (f *fixture) pairsOf(t *testing.T, projectID string) map[string]*models.RecordPair {
	t.Helper()
	pairs, err := f.stores.Pairs.ListPairs(context.Background(), projectID, store.PairFilter{})
	require.NoError(t, err)
	out := make(map[string]*models.RecordPair, len(pairs))
	for _, p := range pairs {
		out[p.PairID] = p
	}
	return out
}

func rid(id string) models.RecordID {
	return models.RecordID{LocalID: id}
}

func pair(left, right string, grade models.MatchGrade, sim float64, props ...models.Property) *models.RecordPair {
	p := models.NewRecordPair(rid(left), rid(right))
	p.Classification = grade
	p.Similarity = sim
	p.Properties.Add(props...)
	return p
}

func withProbability(p *models.RecordPair, prob float64) *models.RecordPair {
	p.Tags.Set(models.NewValueTag(models.TagProbability, "", prob))
	return p
}

type stubParent struct {
	fetched  []*models.RecordPair
	reported []*models.RecordPair
	err      error
}

func (s *stubParent) ReportPairs(_ context.Context, _ string, pairs []*models.RecordPair, _ bool) error {
	s.reported = append(s.reported, pairs...)
	return s.err
}

func (s *stubParent) FetchUncertainPairs(context.Context, string, []string) ([]*models.RecordPair, error) {
	return s.fetched, s.err
}

func (s *stubParent) Delivery() string { return "stub" }

func TestCreateEncodingWishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	project := f.project(t, "p1", "d1", nil)

	pairs := []*models.RecordPair{
		pair("1", "2", models.GradePossibleMatch, 0.7),
		pair("3", "4", models.GradeProbableMatch, 0.8),
	}
	wishes, err := f.wishes.CreateEncodingWishes(ctx, project, pairs)
	require.NoError(t, err)
	require.Len(t, wishes, 4)

	for i, w := range wishes {
		p := pairs[i/2]
		assert.Equal(t, int64(i/2), w.OrderID)
		assert.Equal(t, p.PairID, w.TargetRecordID.BlockID)
		assert.Equal(t, DefaultWishMethod, w.EncodingID.Method)
		assert.Equal(t, "p1", w.EncodingID.Project)
		assert.Len(t, w.RecordSecret, secretLength)
	}
	assert.Equal(t, wishes[0].RecordSecret, wishes[1].RecordSecret)
	assert.Equal(t, "1", wishes[0].TargetRecordID.LocalID)
	assert.Equal(t, "2", wishes[1].TargetRecordID.LocalID)

	t.Run("replaces previous wishes", func(t *testing.T) {
		_, err := f.wishes.CreateEncodingWishes(ctx, project, pairs[:1])
		require.NoError(t, err)
		stored, err := f.wishes.ListEncodingWishes(ctx, "p1", 0)
		require.NoError(t, err)
		assert.Len(t, stored, 2)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, f.svc.DeleteEncodingWishes(ctx, "p1"))
		stored, err := f.wishes.ListEncodingWishes(ctx, "p1", 0)
		require.NoError(t, err)
		assert.Empty(t, stored)
	})
}

func TestGetEncodingWishes_Create(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.project(t, "p1", "d1", map[string]string{models.ConfigLinkSelectionStrategy: "SORTED"})
	f.addPairs(t, "p1",
		withProbability(pair("1", "2", models.GradePossibleMatch, 0.6), 0.6),
		withProbability(pair("3", "4", models.GradePossibleMatch, 0.5), 0.5),
		withProbability(pair("5", "6", models.GradeCertainMatch, 0.99), 0.95),
	)

	wishes, err := f.svc.GetEncodingWishes(ctx, "p1", true, 4)
	require.NoError(t, err)
	require.Len(t, wishes, 4)
	assert.Equal(t, "3", wishes[0].TargetRecordID.LocalID)
	assert.Equal(t, int64(1), wishes[3].OrderID)

	uncertain := 0
	for _, p := range f.pairsOf(t, "p1") {
		if p.Properties.Has(models.PropertyUncertainLink) {
			uncertain++
		}
	}
	assert.Equal(t, 2, uncertain)

	_, err = f.svc.GetEncodingWishes(ctx, "missing", false, 0)
	assert.True(t, models.IsNotFound(err))
}

func TestReportClassifiedPairs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.project(t, "parent", "d1", nil)
	f.project(t, "child", "d1", map[string]string{models.ConfigProjectIDToReportTo: "parent"})

	certain := pair("1", "2", models.GradeCertainMatch, 0.95)
	unreportable := pair("3", "4", models.GradeProbableMatch, 0.85, models.PropertyUnreportableLink)
	nonMatch := pair("5", "6", models.GradeNonMatch, 0.2, models.PropertyUncertainLink)
	unknown := pair("7", "8", models.GradeUnknown, models.UnknownSimilarity)
	f.addPairs(t, "child", certain, unreportable, nonMatch, unknown)
	f.addPairs(t, "parent",
		pair("1", "2", models.GradePossibleMatch, 0.6, models.PropertyUncertainLink),
		pair("5", "6", models.GradePossibleMatch, 0.6, models.PropertyUncertainLink),
	)

	n, err := f.svc.ReportClassifiedPairs(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	child := f.pairsOf(t, "child")
	assert.True(t, child[certain.PairID].Properties.Has(models.PropertyReportedLink))
	assert.True(t, child[nonMatch.PairID].Properties.Has(models.PropertyReportedLink))
	assert.False(t, child[unreportable.PairID].Properties.Has(models.PropertyReportedLink))
	assert.False(t, child[unknown.PairID].Properties.Has(models.PropertyReportedLink))
	assert.False(t, child[certain.PairID].Properties.Has(models.PropertyImprovedLink))

	parent := f.pairsOf(t, "parent")
	improved := parent[certain.PairID]
	assert.Equal(t, models.GradeCertainMatch, improved.Classification)
	assert.True(t, improved.Properties.HasAll(models.PropertyImprovedLink, models.PropertyNew))
	assert.False(t, improved.Properties.Has(models.PropertyUncertainLink))
	method, ok := improved.Tags.Get(models.TagEncodingMethod)
	require.True(t, ok)
	assert.Equal(t, "test", method.StringValue)
	count, ok := improved.Tags.Get(models.TagImprovedLinkCount)
	require.True(t, ok)
	assert.Equal(t, "2", count.StringValue)
	assert.Empty(t, improved.AttributeSimilarities)

	t.Run("reports only once", func(t *testing.T) {
		n, err := f.svc.ReportClassifiedPairs(ctx, "child")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("no parent", func(t *testing.T) {
		n, err := f.svc.ReportClassifiedPairs(ctx, "parent")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestReportClassifiedPairs_ParentFailure(t *testing.T) {
	parent := &stubParent{err: errors.New("unavailable")}
	f := newFixture(t, parent)
	f.project(t, "child", "d1", map[string]string{models.ConfigProjectIDToReportTo: "parent"})
	p := pair("1", "2", models.GradeCertainMatch, 0.95)
	f.addPairs(t, "child", p)

	_, err := f.svc.ReportClassifiedPairs(context.Background(), "child")
	require.Error(t, err)
	assert.Len(t, parent.reported, 1)
	assert.Equal(t, "parent", parent.reported[0].ProjectID)
	assert.False(t, f.pairsOf(t, "child")[p.PairID].Properties.Has(models.PropertyReportedLink))
}

func seedEscalated(t *testing.T, f *fixture, dataset string, pairID string, ids ...string) {
	t.Helper()
	records := make([]*models.Record, len(ids))
	for i, id := range ids {
		records[i] = &models.Record{
			ID:         models.RecordID{LocalID: id, BlockID: pairID},
			Properties: models.NewPropertySet(models.PropertyNew),
			Attributes: map[string]string{"name": "anna"},
		}
	}
	require.NoError(t, f.stores.Records.UpsertRecords(context.Background(), dataset, records))
}

func TestFetchUncertainFromParent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.project(t, "parent", "d1", nil)
	f.project(t, "child", "d2", map[string]string{models.ConfigProjectIDToReportTo: "parent"})

	remote := pair("b", "a", models.GradePossibleMatch, 0.6, models.PropertyUncertainLink, models.PropertyReportedLink)
	f.addPairs(t, "parent", remote, pair("c", "d", models.GradePossibleMatch, 0.6))
	seedEscalated(t, f, "d2", remote.PairID, "a", "b")

	n, err := f.svc.FetchUncertainFromParent(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	fetched := f.pairsOf(t, "child")[remote.PairID]
	require.NotNil(t, fetched)
	assert.Equal(t, "child", fetched.ProjectID)
	assert.True(t, fetched.Properties.HasAll(models.PropertyUnreportableLink, models.PropertyNew))
	assert.False(t, fetched.Properties.HasAny(models.PropertyUncertainLink, models.PropertyReportedLink))
	assert.Equal(t, "b", fetched.LeftRecordID.LocalID)
	assert.Equal(t, remote.PairID, fetched.LeftRecordID.BlockID)
	assert.Equal(t, remote.PairID, fetched.RightRecordID.BlockID)

	project, err := f.sm.GetProject(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseBlocking, project.State)

	records, err := f.stores.Records.ListRecordsWithProperty(ctx, "d2", models.PropertyNew)
	require.NoError(t, err)
	assert.Empty(t, records)

	t.Run("nothing new", func(t *testing.T) {
		n, err := f.svc.FetchUncertainFromParent(ctx, "child")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestFetchUncertainFromParent_Reconciliation(t *testing.T) {
	ctx := context.Background()
	parent := &stubParent{fetched: []*models.RecordPair{pair("x", "y", models.GradePossibleMatch, 0.6)}}
	f := newFixture(t, parent)
	f.project(t, "child", "d2", map[string]string{models.ConfigProjectIDToReportTo: "parent"})
	seedEscalated(t, f, "d2", models.PairID(rid("a"), rid("b")), "a", "b")

	_, err := f.svc.FetchUncertainFromParent(ctx, "child")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrReconciliation))

	records, err := f.stores.Records.ListRecordsWithProperty(ctx, "d2", models.PropertyNew)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Empty(t, f.pairsOf(t, "child"))
}

func TestBlockPairs_SkipsIncompleteBlocks(t *testing.T) {
	f := newFixture(t, nil)
	log := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	records := []*models.Record{
		{ID: models.RecordID{LocalID: "a", BlockID: "b1"}},
		{ID: models.RecordID{LocalID: "b", BlockID: "b1"}},
		{ID: models.RecordID{LocalID: "c", BlockID: "b2"}},
		{ID: models.RecordID{LocalID: "d", BlockID: "b3"}},
		{ID: models.RecordID{LocalID: "e", BlockID: "b3"}},
		{ID: models.RecordID{LocalID: "f", BlockID: "b3"}},
	}

	pairs := f.svc.blockPairs(log, records)
	require.Len(t, pairs, 1)
	_, ok := pairs[models.PairID(rid("a"), rid("b"))]
	assert.True(t, ok)
}

func TestFetchAndCompare(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.project(t, "parent", "d1", nil)
	f.project(t, "child", "d2", map[string]string{models.ConfigProjectIDToReportTo: "parent"})

	remote := pair("a", "b", models.GradePossibleMatch, 0.6, models.PropertyUncertainLink)
	f.addPairs(t, "parent", remote)
	seedEscalated(t, f, "d2", remote.PairID, "a", "b")

	project, err := f.svc.FetchAndCompare(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseClassification, project.State)

	compared := f.pairsOf(t, "child")[remote.PairID]
	require.NotNil(t, compared)
	assert.InDelta(t, 1.0, compared.Similarity, 1e-9)
}

func TestReceivePairs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.project(t, "p1", "d1", nil)

	t.Run("adds fresh pairs", func(t *testing.T) {
		p := pair("1", "2", models.GradeUnknown, models.UnknownSimilarity)
		p.ProjectID = "p1"
		stored, err := f.svc.ReceivePairs(ctx, []*models.RecordPair{p}, false)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.NotEmpty(t, stored[0].ID)
	})

	tests := []struct {
		name   string
		pairs  []*models.RecordPair
		status int
	}{
		{name: "empty", pairs: nil, status: http.StatusBadRequest},
		{name: "no project", pairs: []*models.RecordPair{pair("1", "2", models.GradeUnknown, 0)}, status: http.StatusBadRequest},
		{
			name: "mixed projects",
			pairs: []*models.RecordPair{
				{ProjectID: "p1", LeftRecordID: rid("1"), RightRecordID: rid("2")},
				{ProjectID: "p2", LeftRecordID: rid("3"), RightRecordID: rid("4")},
			},
			status: http.StatusBadRequest,
		},
		{name: "unknown project", pairs: []*models.RecordPair{{ProjectID: "nope", LeftRecordID: rid("1"), RightRecordID: rid("2")}}, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ReceivePairs(ctx, tt.pairs, true)
			require.Error(t, err)
			if tt.status == http.StatusNotFound {
				assert.True(t, models.IsNotFound(err))
				return
			}
			assert.Equal(t, tt.status, httperror.GetStatusCode(err))
		})
	}
}

func TestUpdatePairs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.project(t, "p1", "d1", nil)
	existing := pair("1", "2", models.GradePossibleMatch, 0.6)
	f.addPairs(t, "p1", existing)

	update := pair("1", "2", models.GradeCertainMatch, 0.6)
	update.ProjectID = "p1"
	merged, err := f.svc.UpdatePairs(ctx, []*models.RecordPair{update})
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, models.GradeCertainMatch, f.pairsOf(t, "p1")[existing.PairID].Classification)
}

func TestConfigForProject(t *testing.T) {
	tests := []struct {
		name     string
		config   map[string]string
		expected Config
		wantErr  bool
	}{
		{name: "defaults", expected: DefaultConfig()},
		{
			name: "overrides",
			config: map[string]string{
				models.ConfigWishMethod:             "m",
				models.ConfigMinAttributeSimilarity: "0.5",
				models.ConfigReportOnlyOnce:         "false",
			},
			expected: Config{WishMethod: "m", MinAttributeSimilarity: 0.5, ReportOnlyOnce: false},
		},
		{name: "bad float", config: map[string]string{models.ConfigMinAttributeSimilarity: "x"}, wantErr: true},
		{name: "bad bool", config: map[string]string{models.ConfigReportOnlyOnce: "maybe"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DefaultConfig().ForProject(&models.LinkageProject{Config: tt.config})
			if tt.wantErr {
				assert.True(t, errors.Is(err, models.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
