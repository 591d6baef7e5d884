// Package lifecycle implements the replace-based versioning of record pairs.
// Pairs are never mutated destructively: a change produces a new current
// version and retires the previous one.
package lifecycle

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Config configures the lifecycle manager.
type Config struct {
	// FanOut bounds the goroutines used to merge pairs.
	FanOut int
}

// DefaultConfig returns the default lifecycle configuration
func DefaultConfig() Config {
	return Config{FanOut: 8}
}

// Manager persists record pair versions.
type Manager struct {
	pairs  store.PairStore
	logger ectologger.Logger
	config Config
}

// NewManager creates a lifecycle manager over the pair store.
func NewManager(pairs store.PairStore, logger ectologger.Logger, config Config) *Manager {
	if config.FanOut <= 0 {
		config.FanOut = DefaultConfig().FanOut
	}
	return &Manager{pairs: pairs, logger: logger, config: config}
}

// UpdateActiveProperty applies the shared ACTIVE rule to a pair.
func UpdateActiveProperty(pair *models.RecordPair) {
	pair.UpdateActiveProperty()
}

// ============================================================================
// 1️⃣ Replace
// ============================================================================

// Replace retires the current versions sharing a pair id with newPairs and
// stores newPairs as the current versions. UNREPORTABLE_LINK is stripped from
// the new versions. The stored versions are returned.
func (m *Manager) Replace(ctx context.Context, projectID string, newPairs []*models.RecordPair) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Manager.Replace")
	defer span.End()

	return m.replace(ctx, projectID, newPairs, "replace", true)
}

// AddPairs stores fresh candidate pairs, recomputing ACTIVE first. A re-emitted
// pair id retires the earlier version. Flags are kept as given.
func (m *Manager) AddPairs(ctx context.Context, projectID string, pairs []*models.RecordPair) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Manager.AddPairs")
	defer span.End()

	prepared := make([]*models.RecordPair, len(pairs))
	for i, p := range pairs {
		c := p.Duplicate()
		c.Normalize()
		c.UpdateActiveProperty()
		prepared[i] = c
	}
	return m.replace(ctx, projectID, prepared, "add", false)
}

func (m *Manager) replace(ctx context.Context, projectID string, newPairs []*models.RecordPair, operation string, stripUnreportable bool) ([]*models.RecordPair, error) {
	if len(newPairs) == 0 {
		return []*models.RecordPair{}, nil
	}
	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"operation":  operation,
	})

	inserted := dedupeByPairID(log, newPairs, func(p *models.RecordPair) *models.RecordPair {
		c := p.Duplicate()
		c.ProjectID = projectID
		c.Normalize()
		c.Properties.Remove(models.PropertyReplaced)
		if stripUnreportable {
			c.Properties.Remove(models.PropertyUnreportableLink)
		}
		return c
	})

	existing, err := m.pairs.ListPairs(ctx, projectID, store.PairFilter{PairIDs: models.PairIDs(inserted)})
	if err != nil {
		return nil, err
	}

	if err := m.persist(ctx, log, projectID, retire(existing), inserted, operation); err != nil {
		return nil, err
	}
	return inserted, nil
}

func (m *Manager) persist(ctx context.Context, log ectologger.Logger, projectID string, retired, inserted []*models.RecordPair, operation string) error {
	log.WithFields(map[string]any{
		"retired":  len(retired),
		"inserted": len(inserted),
	}).Debug("Replacing record pair versions")

	if err := m.pairs.ReplacePairs(ctx, projectID, retired, inserted); err != nil {
		log.WithError(err).Error("Failed to replace record pairs")
		return err
	}
	metrics.PairsReplacedTotal.WithLabelValues(operation).Add(float64(len(retired)))
	return nil
}

// retire marks copies of the given versions REPLACED and inactive.
func retire(existing []*models.RecordPair) []*models.RecordPair {
	retired := make([]*models.RecordPair, len(existing))
	for i, p := range existing {
		c := p.Clone()
		c.Properties.Remove(models.PropertyActive)
		c.Properties.Add(models.PropertyReplaced)
		retired[i] = c
	}
	return retired
}

// dedupeByPairID prepares pairs and keeps the last occurrence of each pair id
// in first-seen order.
func dedupeByPairID(log ectologger.Logger, pairs []*models.RecordPair, prepare func(*models.RecordPair) *models.RecordPair) []*models.RecordPair {
	index := make(map[string]int, len(pairs))
	out := make([]*models.RecordPair, 0, len(pairs))
	for _, p := range pairs {
		c := prepare(p)
		if i, ok := index[c.PairID]; ok {
			log.WithField("pair_id", c.PairID).Warn("Duplicate pair id in batch, keeping the last version")
			out[i] = c
			continue
		}
		index[c.PairID] = len(out)
		out = append(out, c)
	}
	return out
}

// ============================================================================
// 2️⃣ Merge
// ============================================================================

// MergeUpdated merges updated pairs onto the current versions with the same
// pair id and stores the results as new versions. Updated pairs without a
// current counterpart are ignored.
func (m *Manager) MergeUpdated(ctx context.Context, projectID string, updatedPairs []*models.RecordPair) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Manager.MergeUpdated")
	defer span.End()

	log := m.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"count":      len(updatedPairs),
	})
	if len(updatedPairs) == 0 {
		return []*models.RecordPair{}, nil
	}

	updatedByPairID := make(map[string]*models.RecordPair, len(updatedPairs))
	for _, p := range updatedPairs {
		c := p.Duplicate()
		c.Normalize()
		updatedByPairID[c.PairID] = c
	}
	ids := make([]string, 0, len(updatedByPairID))
	for id := range updatedByPairID {
		ids = append(ids, id)
	}

	existing, err := m.pairs.ListPairs(ctx, projectID, store.PairFilter{PairIDs: ids})
	if err != nil {
		return nil, err
	}
	if len(existing) < len(ids) {
		log.WithField("missing", len(ids)-len(existing)).Warn("Ignoring updated pairs without a current version")
	}

	merged := make([]*models.RecordPair, len(existing))
	g := new(errgroup.Group)
	g.SetLimit(m.config.FanOut)
	for i, old := range existing {
		g.Go(func() error {
			merged[i] = mergePair(old, updatedByPairID[old.PairID])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range merged {
		p.Properties.Remove(models.PropertyUnreportableLink)
	}

	log.Debug("Merging data from updated record pairs")
	if err := m.persist(ctx, log, projectID, retire(existing), merged, "merge"); err != nil {
		return nil, err
	}
	return merged, nil
}

// mergePair duplicates the existing version and applies the updated
// classification, tags, properties and attribute similarities.
func mergePair(existing, updated *models.RecordPair) *models.RecordPair {
	merged := existing.Duplicate()
	merged.Classification = updated.Classification
	merged.Tags = updated.Tags.Clone()
	merged.Properties = updated.Properties.Clone()
	merged.Properties.ResolveNegations()
	if updated.AttributeSimilarities != nil {
		merged.AttributeSimilarities = make(map[string]float64, len(updated.AttributeSimilarities))
		for k, v := range updated.AttributeSimilarities {
			merged.AttributeSimilarities[k] = v
		}
	}
	if merged.Classification.IsAtMost(models.GradePossibleMatch) {
		merged.Tags.Set(models.NewTag(models.TagRemovedByClassifier))
	}
	merged.UpdateActiveProperty()
	return merged
}

// MergeNewImproved flags improved pairs NEW, stamps them with the running
// improved link count and merges them.
func (m *Manager) MergeNewImproved(ctx context.Context, projectID string, improvedPairs []*models.RecordPair) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Manager.MergeNewImproved")
	defer span.End()

	previous, err := m.pairs.CountPairs(ctx, projectID, store.PairFilter{
		Properties: []models.Property{models.PropertyImprovedLink},
	})
	if err != nil {
		return nil, err
	}
	count := previous + len(improvedPairs)
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"previous":   previous,
		"count":      count,
	}).Debug("Stamping improved link count")

	stamped := make([]*models.RecordPair, len(improvedPairs))
	for i, p := range improvedPairs {
		c := p.Duplicate()
		c.Normalize()
		c.Properties.Add(models.PropertyNew)
		c.Tags.Set(models.NewValueTag(models.TagImprovedLinkCount, strconv.Itoa(count), float64(count)))
		stamped[i] = c
	}
	return m.MergeUpdated(ctx, projectID, stamped)
}

// ============================================================================
// 3️⃣ In-place bookkeeping
// ============================================================================

// UpdatePairs overwrites the flags and tags of stored versions in place.
// ACTIVE is recomputed unless keepActive is set.
func (m *Manager) UpdatePairs(ctx context.Context, projectID string, pairs []*models.RecordPair, keepActive bool) error {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Manager.UpdatePairs")
	defer span.End()

	if len(pairs) == 0 {
		return nil
	}
	updated := make([]*models.RecordPair, len(pairs))
	for i, p := range pairs {
		if p.ID == "" {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "record pair %s has no id", p.PairID)
		}
		c := p.Clone()
		c.Normalize()
		if !keepActive {
			c.UpdateActiveProperty()
		}
		updated[i] = c
	}
	if err := m.pairs.UpdatePairs(ctx, projectID, updated); err != nil {
		m.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Error("Failed to update record pairs")
		return err
	}
	return nil
}

// ClearProperty removes a flag from every current pair of the project.
func (m *Manager) ClearProperty(ctx context.Context, projectID string, property models.Property) error {
	ctx, span := tracing.StartSpan(ctx, "lifecycle.Manager.ClearProperty")
	defer span.End()

	flagged, err := m.pairs.ListPairs(ctx, projectID, store.PairFilter{Properties: []models.Property{property}})
	if err != nil {
		return err
	}
	for _, p := range flagged {
		p.Properties.Remove(property)
	}
	return m.UpdatePairs(ctx, projectID, flagged, true)
}
