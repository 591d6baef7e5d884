// Package selection ranks record pairs by uncertainty and selects the links
// escalated for review.
package selection

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Strategy orders the uncertain link candidates.
type Strategy string

const (
	StrategySorted      Strategy = "SORTED"
	StrategyAlternating Strategy = "ALTERNATING"
	StrategyBuckets     Strategy = "BUCKETS"
)

// ParseStrategy parses a strategy name, case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToUpper(strings.TrimSpace(s))); st {
	case StrategySorted, StrategyAlternating, StrategyBuckets:
		return st, nil
	default:
		return "", models.NewLinkageError(models.ErrValidation, "unknown link selection strategy %q", s)
	}
}

const numberOfBuckets = 10

// Config holds the selection defaults, overridable per project.
type Config struct {
	Strategy              Strategy
	MinUncertainty        float64
	BalancedSelectionOnly bool
	// FallbackThreshold approximates the classifier threshold for pairs
	// without a probability tag.
	FallbackThreshold float64
}

// DefaultConfig returns the default selection configuration
func DefaultConfig() Config {
	return Config{
		Strategy:              StrategyBuckets,
		MinUncertainty:        0.2,
		BalancedSelectionOnly: false,
		FallbackThreshold:     0.8,
	}
}

// ForProject applies the project's config overrides.
func (c Config) ForProject(project *models.LinkageProject) (Config, error) {
	if v, ok := project.ConfigValue(models.ConfigLinkSelectionStrategy); ok {
		st, err := ParseStrategy(v)
		if err != nil {
			return c, err
		}
		c.Strategy = st
	}
	if v, ok := project.ConfigValue(models.ConfigMinUncertainty); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, models.NewLinkageError(models.ErrValidation, "invalid %s %q", models.ConfigMinUncertainty, v)
		}
		c.MinUncertainty = f
	}
	if v, ok := project.ConfigValue(models.ConfigBalancedSelectionOnly); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c, models.NewLinkageError(models.ErrValidation, "invalid %s %q", models.ConfigBalancedSelectionOnly, v)
		}
		c.BalancedSelectionOnly = b
	}
	return c, nil
}

// Selector selects uncertain links.
type Selector struct {
	pairs     store.PairStore
	lifecycle *lifecycle.Manager
	logger    ectologger.Logger
	config    Config

	mu   sync.Mutex
	rand *rand.Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand sets the shuffle source used by the BUCKETS strategy.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) {
		s.rand = r
	}
}

// NewSelector creates a selector.
func NewSelector(pairs store.PairStore, manager *lifecycle.Manager, logger ectologger.Logger, config Config, opts ...Option) *Selector {
	s := &Selector{
		pairs:     pairs,
		lifecycle: manager,
		logger:    logger,
		config:    config,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the selector defaults.
func (s *Selector) Config() Config {
	return s.config
}

// ============================================================================
// 1️⃣ Uncertainty
// ============================================================================

// Uncertainty is 1 - probability when the classifier attached one. Otherwise
// it falls back to the similarity distance from a fixed threshold, which is
// only an approximation.
func Uncertainty(p *models.RecordPair, fallbackThreshold float64) (float64, bool) {
	if prob, ok := p.Probability(); ok {
		return 1 - prob, true
	}
	return 1 - math.Abs(fallbackThreshold-p.Similarity), false
}

type scored struct {
	pair        *models.RecordPair
	uncertainty float64
}

// candidates filters out improved links and pairs at or below the minimum
// uncertainty, sorted by descending uncertainty.
func (s *Selector) candidates(ctx context.Context, config Config, pairs []*models.RecordPair) []scored {
	log := s.logger.WithContext(ctx)
	out := make([]scored, 0, len(pairs))
	fallbacks := 0
	for _, p := range pairs {
		if p.Properties.Has(models.PropertyImprovedLink) {
			continue
		}
		u, exact := Uncertainty(p, config.FallbackThreshold)
		if !exact {
			fallbacks++
		}
		if u > config.MinUncertainty {
			out = append(out, scored{pair: p, uncertainty: u})
		}
	}
	if fallbacks > 0 {
		log.WithFields(map[string]any{
			"count":     fallbacks,
			"threshold": config.FallbackThreshold,
		}).Debug("No probability tag found, using similarity distance to a fixed threshold as uncertainty")
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].uncertainty > out[j].uncertainty })
	return out
}

// ============================================================================
// 2️⃣ Strategies
// ============================================================================

// Rank orders the candidate pairs using the configured strategy.
func (s *Selector) Rank(ctx context.Context, config Config, pairs []*models.RecordPair) ([]*models.RecordPair, error) {
	sorted := s.candidates(ctx, config, pairs)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"strategy": config.Strategy,
		"count":    len(sorted),
	}).Info("Ranking uncertain links")

	switch config.Strategy {
	case StrategySorted:
		return unwrap(sorted), nil
	case StrategyAlternating:
		return alternating(sorted, config.BalancedSelectionOnly), nil
	case StrategyBuckets:
		s.mu.Lock()
		defer s.mu.Unlock()
		return buckets(sorted, config.BalancedSelectionOnly, s.rand), nil
	default:
		return nil, models.NewLinkageError(models.ErrValidation, "unknown link selection strategy %q", config.Strategy)
	}
}

func unwrap(in []scored) []*models.RecordPair {
	out := make([]*models.RecordPair, len(in))
	for i, sc := range in {
		out[i] = sc.pair
	}
	return out
}

// alternating interleaves matches and non-matches.
func alternating(sorted []scored, balancedOnly bool) []*models.RecordPair {
	var matches, nonMatches []*models.RecordPair
	for _, sc := range sorted {
		switch {
		case sc.pair.Classification.IsAtLeast(models.GradeProbableMatch):
			matches = append(matches, sc.pair)
		case sc.pair.Classification.IsAtMost(models.GradePossibleMatch):
			nonMatches = append(nonMatches, sc.pair)
		}
	}
	n := min(len(matches), len(nonMatches))
	out := make([]*models.RecordPair, 0, len(sorted))
	for i := 0; i < n; i++ {
		out = append(out, matches[i], nonMatches[i])
	}
	if !balancedOnly {
		out = append(out, matches[n:]...)
		out = append(out, nonMatches[n:]...)
	}
	return out
}

// buckets spreads the selection over ten equal-width uncertainty buckets,
// emitting one pair per bucket per round from the most uncertain bucket down.
func buckets(sorted []scored, balancedOnly bool, r *rand.Rand) []*models.RecordPair {
	if len(sorted) == 0 {
		return []*models.RecordPair{}
	}
	lo, hi := sorted[len(sorted)-1].uncertainty, sorted[0].uncertainty
	width := (hi - lo) / numberOfBuckets

	groups := make([][]*models.RecordPair, numberOfBuckets)
	for _, sc := range sorted {
		idx := 0
		if width > 0 {
			idx = int(math.Floor((sc.uncertainty - lo) / width))
		}
		idx = max(0, min(idx, numberOfBuckets-1))
		groups[idx] = append(groups[idx], sc.pair)
	}

	minSize := len(groups[0])
	for _, g := range groups {
		r.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		minSize = min(minSize, len(g))
	}

	out := make([]*models.RecordPair, 0, len(sorted))
	for round := 0; round < minSize; round++ {
		for idx := numberOfBuckets - 1; idx >= 0; idx-- {
			out = append(out, groups[idx][round])
		}
	}
	if balancedOnly {
		return out
	}
	for round := minSize; ; round++ {
		emitted := false
		for idx := numberOfBuckets - 1; idx >= 0; idx-- {
			if round < len(groups[idx]) {
				out = append(out, groups[idx][round])
				emitted = true
			}
		}
		if !emitted {
			return out
		}
	}
}

// ============================================================================
// 3️⃣ Determine uncertain links
// ============================================================================

// DetermineUncertainLinks selects up to pairLimit/2 uncertain links among the
// project's current pairs and flags them UNCERTAIN_LINK. The flag is cleared
// from every other pair first. A negative limit means unlimited.
func (s *Selector) DetermineUncertainLinks(ctx context.Context, project *models.LinkageProject, pairLimit int) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "selection.Selector.DetermineUncertainLinks")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project.ID,
		"limit":      pairLimit,
	})

	config, err := s.config.ForProject(project)
	if err != nil {
		return nil, err
	}

	pairs, err := s.pairs.ListPairs(ctx, project.ID, store.PairFilter{})
	if err != nil {
		return nil, err
	}

	ranked, err := s.Rank(ctx, config, pairs)
	if err != nil {
		return nil, err
	}

	if pairLimit < 0 {
		pairLimit = math.MaxInt
	}
	n := min(pairLimit/2, len(ranked))
	selected := ranked[:n]
	log.WithFields(map[string]any{
		"count": n,
		"total": len(ranked),
	}).Info("Selected uncertain links")

	if err := s.lifecycle.ClearProperty(ctx, project.ID, models.PropertyUncertainLink); err != nil {
		return nil, fmt.Errorf("failed to reset uncertain links: %w", err)
	}
	for _, p := range selected {
		p.Properties.Add(models.PropertyUncertainLink)
	}
	if err := s.lifecycle.UpdatePairs(ctx, project.ID, selected, true); err != nil {
		return nil, err
	}

	metrics.UncertainLinksTotal.WithLabelValues(string(config.Strategy)).Add(float64(n))
	return selected, nil
}
