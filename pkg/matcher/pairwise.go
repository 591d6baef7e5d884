package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// PairwiseMatcherType is the config type of the pairwise matcher.
const PairwiseMatcherType = "pairwise"

// PairwiseConfig is the config document of a PairwiseMatcher.
type PairwiseConfig struct {
	Type       string          `json:"type"`
	Comparator string          `json:"comparator,omitempty"`
	Attributes []string        `json:"attributes,omitempty"`
	Classifier json.RawMessage `json:"classifier,omitempty"`
}

// PairwiseMatcher compares blocked candidate pairs with a Comparator and
// grades them with a Classifier. Postprocessing keeps the best match per
// record; clustering takes the connected components of active matches.
type PairwiseMatcher struct {
	method     string
	config     PairwiseConfig
	comparator Comparator
	blocker    Blocker
	classifier Classifier
}

// PairwiseOption configures a PairwiseMatcher.
type PairwiseOption func(*PairwiseMatcher)

// WithBlocker replaces block id blocking.
func WithBlocker(b Blocker) PairwiseOption {
	return func(m *PairwiseMatcher) {
		m.blocker = b
	}
}

// WithConfig sets the config document reported by Definition.
func WithConfig(config PairwiseConfig) PairwiseOption {
	return func(m *PairwiseMatcher) {
		m.config = config
	}
}

// NewPairwiseMatcher creates a pairwise matcher.
func NewPairwiseMatcher(method string, comparator Comparator, classifier Classifier, opts ...PairwiseOption) *PairwiseMatcher {
	m := &PairwiseMatcher{
		method:     method,
		config:     PairwiseConfig{Type: PairwiseMatcherType},
		comparator: comparator,
		blocker:    BlockIDBlocker{},
		classifier: classifier,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.config.Type = PairwiseMatcherType
	return m
}

func (m *PairwiseMatcher) Method() string { return m.method }

func (m *PairwiseMatcher) Classifier() Classifier { return m.classifier }

func (m *PairwiseMatcher) WithClassifier(c Classifier) Matcher {
	cp := *m
	cp.classifier = c
	return &cp
}

func (m *PairwiseMatcher) WithMethod(method string) Matcher {
	cp := *m
	cp.method = method
	return &cp
}

func (m *PairwiseMatcher) Definition() (json.RawMessage, error) {
	config := m.config
	classifier, err := m.classifier.Definition()
	if err != nil {
		return nil, err
	}
	config.Classifier = classifier
	return json.Marshal(config)
}

// classify grades the pair and tags non-matches removedByClassifier.
func (m *PairwiseMatcher) classify(p *models.RecordPair) {
	m.classifier.Classify(p)
	if p.Classification.IsAtMost(models.GradePossibleMatch) {
		p.Tags.Set(models.NewTag(models.TagRemovedByClassifier))
	} else {
		p.Tags.Remove(models.TagRemovedByClassifier)
	}
	p.UpdateActiveProperty()
}

func (m *PairwiseMatcher) compare(p *models.RecordPair, left, right *models.Record) {
	p.Similarity, p.AttributeSimilarities = m.comparator.Compare(left, right)
}

func recordsByUniqueID(records []*models.Record) map[string]*models.Record {
	out := make(map[string]*models.Record, len(records))
	for _, r := range records {
		out[r.ID.UniqueLikeID()] = r
	}
	return out
}

// ============================================================================
// 1️⃣ Blocking, comparison, classification
// ============================================================================

func (m *PairwiseMatcher) RunBlockedLinking(ctx context.Context, ds Dataset, records []*models.Record) error {
	ctx, span := tracing.StartSpan(ctx, "matcher.PairwiseMatcher.RunBlockedLinking")
	defer span.End()

	all, err := ds.Records(ctx)
	if err != nil {
		return err
	}
	candidates := m.blocker.Candidates(all, records)
	pairs := make([]*models.RecordPair, 0, len(candidates))
	for _, c := range candidates {
		p := models.NewRecordPair(c[0].ID, c[1].ID)
		m.compare(p, c[0], c[1])
		m.classify(p)
		pairs = append(pairs, p)
	}
	if err := ds.AddPairs(ctx, pairs); err != nil {
		return err
	}
	return ds.CleanPairs(ctx)
}

func (m *PairwiseMatcher) CompareAndClassifyActive(ctx context.Context, ds Dataset) error {
	ctx, span := tracing.StartSpan(ctx, "matcher.PairwiseMatcher.CompareAndClassifyActive")
	defer span.End()

	pairs, err := ds.PairsWithProperties(ctx, models.PropertyActive)
	if err != nil {
		return err
	}
	return m.CompareRecordPairs(ctx, ds, pairs)
}

func (m *PairwiseMatcher) CompareRecordPairs(ctx context.Context, ds Dataset, pairs []*models.RecordPair) error {
	ctx, span := tracing.StartSpan(ctx, "matcher.PairwiseMatcher.CompareRecordPairs")
	defer span.End()

	if len(pairs) == 0 {
		return nil
	}
	records, err := ds.Records(ctx)
	if err != nil {
		return err
	}
	byID := recordsByUniqueID(records)
	compared := make([]*models.RecordPair, 0, len(pairs))
	for _, p := range pairs {
		left, lok := byID[p.LeftRecordID.UniqueLikeID()]
		right, rok := byID[p.RightRecordID.UniqueLikeID()]
		if !lok || !rok {
			return models.NewLinkageError(models.ErrNotFound, "records of pair %s are not in dataset %s", p.PairID, ds.Project().DatasetID)
		}
		c := p.Duplicate()
		m.compare(c, left, right)
		m.classify(c)
		compared = append(compared, c)
	}
	return ds.ReplacePairs(ctx, compared)
}

func (m *PairwiseMatcher) ReclassifyRecordPairs(ctx context.Context, ds Dataset, pairs []*models.RecordPair) error {
	ctx, span := tracing.StartSpan(ctx, "matcher.PairwiseMatcher.ReclassifyRecordPairs")
	defer span.End()

	var uncompared []*models.RecordPair
	reclassified := make([]*models.RecordPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Similarity < 0 {
			uncompared = append(uncompared, p)
			continue
		}
		c := p.Duplicate()
		m.classify(c)
		reclassified = append(reclassified, c)
	}
	if len(reclassified) > 0 {
		if err := ds.ReplacePairs(ctx, reclassified); err != nil {
			return err
		}
	}
	return m.CompareRecordPairs(ctx, ds, uncompared)
}

// ============================================================================
// 2️⃣ Postprocessing and clustering
// ============================================================================

// RunPostProcessing keeps, per record, only its most similar active match.
// The other matches are tagged removedByPostprocessing.
func (m *PairwiseMatcher) RunPostProcessing(ctx context.Context, ds Dataset) error {
	ctx, span := tracing.StartSpan(ctx, "matcher.PairwiseMatcher.RunPostProcessing")
	defer span.End()

	pairs, err := ds.PairsWithProperties(ctx, models.PropertyActive)
	if err != nil {
		return err
	}
	matches := make([]*models.RecordPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Classification.IsMatch() {
			matches = append(matches, p)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].PairID < matches[j].PairID
	})

	used := map[string]struct{}{}
	var losers []*models.RecordPair
	for _, p := range matches {
		l, r := p.LeftRecordID.UniqueLikeID(), p.RightRecordID.UniqueLikeID()
		_, lused := used[l]
		_, rused := used[r]
		if lused || rused {
			p.Tags.Set(models.NewTag(models.TagRemovedByPostprocessing))
			losers = append(losers, p)
			continue
		}
		used[l] = struct{}{}
		used[r] = struct{}{}
	}
	if len(losers) == 0 {
		return nil
	}
	return ds.UpdatePairs(ctx, losers)
}

// RunClustering stores the connected components of the active matches.
func (m *PairwiseMatcher) RunClustering(ctx context.Context, ds Dataset) error {
	ctx, span := tracing.StartSpan(ctx, "matcher.PairwiseMatcher.RunClustering")
	defer span.End()

	pairs, err := ds.PairsWithProperties(ctx, models.PropertyActive)
	if err != nil {
		return err
	}

	parent := map[string]string{}
	ids := map[string]models.RecordID{}
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	add := func(id models.RecordID) string {
		u := id.UniqueLikeID()
		if _, ok := parent[u]; !ok {
			parent[u] = u
			ids[u] = id
		}
		return u
	}
	for _, p := range pairs {
		if !p.Classification.IsMatch() {
			continue
		}
		a, b := find(add(p.LeftRecordID)), find(add(p.RightRecordID))
		if a != b {
			parent[a] = b
		}
	}

	members := map[string][]string{}
	for u := range parent {
		root := find(u)
		members[root] = append(members[root], u)
	}
	roots := make([]string, 0, len(members))
	for root := range members {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	for _, root := range roots {
		group := members[root]
		sort.Strings(group)
		cluster := &models.Cluster{ProjectID: ds.Project().ID}
		for _, u := range group {
			cluster.RecordIDs = append(cluster.RecordIDs, ids[u])
		}
		if err := ds.AddCluster(ctx, cluster); err != nil {
			return fmt.Errorf("failed to add cluster: %w", err)
		}
	}
	return nil
}

func (m *PairwiseMatcher) RunAll(ctx context.Context, ds Dataset) error {
	ctx, span := tracing.StartSpan(ctx, "matcher.PairwiseMatcher.RunAll")
	defer span.End()

	records, err := ds.Records(ctx)
	if err != nil {
		return err
	}
	if err := m.RunBlockedLinking(ctx, ds, records); err != nil {
		return err
	}
	if err := m.RunPostProcessing(ctx, ds); err != nil {
		return err
	}
	return m.RunClustering(ctx, ds)
}
