package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Gobusters/ectologger"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Factory builds a matcher from its config document.
type Factory func(r *Registry, method string, raw json.RawMessage) (Matcher, error)

// ClassifierFactory builds a classifier from its config document.
type ClassifierFactory func(raw json.RawMessage) (Classifier, error)

// Registry stores matcher definitions keyed by method and builds matchers
// from them through factories keyed by the config "type".
type Registry struct {
	store  store.MatchingStore
	logger ectologger.Logger

	mu          sync.RWMutex
	factories   map[string]Factory
	classifiers map[string]ClassifierFactory
	comparators map[string]Comparator
}

// NewRegistry creates a registry with the pairwise matcher, the threshold
// classifier and the dice comparator registered.
func NewRegistry(matchings store.MatchingStore, logger ectologger.Logger) *Registry {
	r := &Registry{
		store:       matchings,
		logger:      logger,
		factories:   map[string]Factory{},
		classifiers: map[string]ClassifierFactory{},
		comparators: map[string]Comparator{},
	}
	r.RegisterFactory(PairwiseMatcherType, newPairwiseFromConfig)
	r.RegisterClassifier(ThresholdClassifierType, func(raw json.RawMessage) (Classifier, error) {
		return ParseThresholdClassifier(raw)
	})
	r.RegisterComparator("dice", DiceComparator{})
	return r
}

func (r *Registry) RegisterFactory(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

func (r *Registry) RegisterClassifier(typ string, f ClassifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifiers[typ] = f
}

func (r *Registry) RegisterComparator(name string, c Comparator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comparators[name] = c
}

func configType(raw json.RawMessage) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", models.NewLinkageError(models.ErrValidation, "invalid config document: %v", err)
	}
	return head.Type, nil
}

// Build creates a matcher from a config document without storing it.
func (r *Registry) Build(method string, raw json.RawMessage) (Matcher, error) {
	typ, err := configType(raw)
	if err != nil {
		return nil, err
	}
	if typ == "" {
		typ = PairwiseMatcherType
	}
	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewLinkageError(models.ErrValidation, "unknown matcher type %q", typ)
	}
	return f(r, method, raw)
}

// BuildClassifier creates a classifier from a config document.
func (r *Registry) BuildClassifier(raw json.RawMessage) (Classifier, error) {
	typ := ThresholdClassifierType
	if len(raw) > 0 {
		t, err := configType(raw)
		if err != nil {
			return nil, err
		}
		if t != "" {
			typ = t
		}
	}
	r.mu.RLock()
	f, ok := r.classifiers[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewLinkageError(models.ErrValidation, "unknown classifier type %q", typ)
	}
	return f(raw)
}

// Comparator returns a registered comparator.
func (r *Registry) Comparator(name string) (Comparator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.comparators[name]
	if !ok {
		return nil, models.NewLinkageError(models.ErrValidation, "unknown comparator %q", name)
	}
	return c, nil
}

func newPairwiseFromConfig(r *Registry, method string, raw json.RawMessage) (Matcher, error) {
	var config PairwiseConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, models.NewLinkageError(models.ErrValidation, "invalid pairwise matcher config: %v", err)
	}
	if config.Comparator == "" {
		config.Comparator = "dice"
	}
	comparator, err := r.Comparator(config.Comparator)
	if err != nil {
		return nil, err
	}
	if dc, ok := comparator.(DiceComparator); ok && len(config.Attributes) > 0 {
		dc.Attributes = config.Attributes
		comparator = dc
	}
	classifier, err := r.BuildClassifier(config.Classifier)
	if err != nil {
		return nil, err
	}
	return NewPairwiseMatcher(method, comparator, classifier, WithConfig(config)), nil
}

// ============================================================================
// Stored definitions
// ============================================================================

// Get builds the matcher stored under method.
func (r *Registry) Get(ctx context.Context, method string) (Matcher, error) {
	ctx, span := tracing.StartSpan(ctx, "matcher.Registry.Get")
	defer span.End()

	def, err := r.store.GetMatching(ctx, method)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewLinkageError(models.ErrNotFound, "matcher %s not found", method)
		}
		return nil, err
	}
	return r.Build(def.Method, def.Config)
}

// Save validates and stores a matcher definition.
func (r *Registry) Save(ctx context.Context, method string, raw json.RawMessage) (Matcher, error) {
	ctx, span := tracing.StartSpan(ctx, "matcher.Registry.Save")
	defer span.End()

	m, err := r.Build(method, raw)
	if err != nil {
		return nil, err
	}
	if err := r.Persist(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Persist stores the current definition of a matcher, including trained state.
func (r *Registry) Persist(ctx context.Context, m Matcher) error {
	ctx, span := tracing.StartSpan(ctx, "matcher.Registry.Persist")
	defer span.End()

	raw, err := m.Definition()
	if err != nil {
		return fmt.Errorf("failed to serialize matcher %s: %w", m.Method(), err)
	}
	if err := r.store.SaveMatching(ctx, &models.Matching{Method: m.Method(), Config: raw}); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("method", m.Method()).Error("Failed to save matcher definition")
		return err
	}
	return nil
}

func (r *Registry) List(ctx context.Context) ([]*models.Matching, error) {
	return r.store.ListMatchings(ctx)
}

func (r *Registry) Delete(ctx context.Context, method string) error {
	return r.store.DeleteMatching(ctx, method)
}

type definitionFile struct {
	Matchers []struct {
		Method string         `yaml:"method"`
		Config map[string]any `yaml:"config"`
	} `yaml:"matchers"`
}

// LoadDefinitions stores the matcher definitions of a YAML file:
//
//	matchers:
//	  - method: DBSLeipzig/pairwise/default
//	    config: {type: pairwise, comparator: dice}
func (r *Registry) LoadDefinitions(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read matcher definitions: %w", err)
	}
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("failed to parse matcher definitions %s: %w", path, err)
	}
	for _, def := range file.Matchers {
		raw, err := json.Marshal(def.Config)
		if err != nil {
			return 0, fmt.Errorf("matcher %s: %w", def.Method, err)
		}
		if _, err := r.Save(ctx, def.Method, raw); err != nil {
			return 0, fmt.Errorf("matcher %s: %w", def.Method, err)
		}
	}
	r.logger.WithContext(ctx).WithFields(map[string]any{
		"path":  path,
		"count": len(file.Matchers),
	}).Info("Loaded matcher definitions")
	return len(file.Matchers), nil
}
