// Package retraining feeds the results of link improvement back into the
// classifiers of the matchers.
package retraining

import (
	"context"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/matcher"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/statemachine"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Update outcomes.
const (
	outcomeUpdated = "updated"
	outcomeSkipped = "skipped"
	outcomeError   = "error"
)

// Config holds the retraining settings.
type Config struct {
	// DistributionBinSize is the bin width of the similarity baseline.
	DistributionBinSize float64
}

// DefaultConfig returns the default retraining configuration
func DefaultConfig() Config {
	return Config{DistributionBinSize: matcher.DefaultBinSize}
}

// Service retrains matchers.
type Service struct {
	logger    ectologger.Logger
	sm        *statemachine.Service
	stores    store.Stores
	lifecycle *lifecycle.Manager
	registry  *matcher.Registry
	events    events.EventSink
	config    Config
	newID     func() string
}

// NewService creates the retraining service.
func NewService(
	logger ectologger.Logger,
	sm *statemachine.Service,
	stores store.Stores,
	manager *lifecycle.Manager,
	registry *matcher.Registry,
	sink events.EventSink,
	config Config,
) *Service {
	if sink == nil {
		sink = events.Noop{}
	}
	return &Service{
		logger:    logger,
		sm:        sm,
		stores:    stores,
		lifecycle: manager,
		registry:  registry,
		events:    sink,
		config:    config,
		newID:     uuid.NewString,
	}
}

// ============================================================================
// 1️⃣ Train
// ============================================================================

// TrainMatcher fits (or, when incremental, updates) the classifier of a
// dataset-based matcher. Matchers that cannot be trained are returned as
// they are.
func (s *Service) TrainMatcher(ctx context.Context, m matcher.Matcher, incremental bool, labelled []*models.RecordPair) (matcher.Matcher, error) {
	ctx, span := tracing.StartSpan(ctx, "retraining.Service.TrainMatcher")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"method":      m.Method(),
		"incremental": incremental,
		"labelled":    len(labelled),
	})

	db, ok := m.(matcher.DatasetBased)
	if !ok {
		log.Warn("Matcher is not dataset based and cannot be trained")
		return m, nil
	}
	classifier, ok := db.Classifier().(matcher.Trainable)
	if !ok {
		log.Warn("Classifier is not trainable")
		return m, nil
	}

	var err error
	if incremental {
		err = classifier.Update(labelled)
	} else {
		err = classifier.Fit(labelled)
	}
	if err != nil {
		log.WithError(err).Error("Failed to train classifier")
		return nil, models.NewLinkageError(models.ErrValidation, "failed to train matcher %s: %v", m.Method(), err)
	}
	log.Info("Trained classifier")
	return db.WithClassifier(classifier), nil
}

// ============================================================================
// 2️⃣ Update strategies
// ============================================================================

// UpdateMatcher retrains the matcher of a project from its improved links.
func (s *Service) UpdateMatcher(ctx context.Context, projectID string, strategy models.MatcherUpdateType) (*models.Matching, error) {
	ctx, span := tracing.StartSpan(ctx, "retraining.Service.UpdateMatcher")
	defer span.End()

	var matching *models.Matching
	err := s.sm.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		project, err := s.sm.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"project_id": project.ID,
			"strategy":   strategy,
		}).Info("Updating matcher of project")

		switch strategy {
		case models.UpdateNewImproved:
			matching, err = s.updateWithNewImproved(ctx, project)
		case models.UpdateUpperImproved:
			matching, err = s.fit(ctx, project, strategy, true, func(p *models.RecordPair) bool {
				return p.Properties.HasAny(models.PropertyReplaced, models.PropertyUnreportableLink, models.PropertyImprovedLink)
			})
		case models.UpdateImproved:
			matching, err = s.fit(ctx, project, strategy, false, func(p *models.RecordPair) bool {
				return p.Properties.Has(models.PropertyImprovedLink)
			})
		case models.UpdateCROnly:
			matching, err = s.fit(ctx, project, strategy, false, func(p *models.RecordPair) bool {
				return p.Properties.Has(models.PropertyImprovedLink) && isReviewed(p)
			})
		default:
			return models.NewLinkageError(models.ErrValidation, "unknown matcher update type %q", strategy)
		}
		return err
	})
	if err != nil {
		metrics.RetrainingUpdatesTotal.WithLabelValues(string(strategy), outcomeError).Inc()
		return nil, err
	}
	return matching, nil
}

// isReviewed reports whether the pair was improved by a clerical review
// encoding method.
func isReviewed(p *models.RecordPair) bool {
	tag, ok := p.Tags.Get(models.TagEncodingMethod)
	return ok && strings.Contains(tag.StringValue, models.MethodClericalReviewMarker)
}

func (s *Service) updateWithNewImproved(ctx context.Context, project *models.LinkageProject) (*models.Matching, error) {
	improved, err := s.stores.Pairs.ListPairs(ctx, project.ID, store.PairFilter{
		Properties: []models.Property{models.PropertyImprovedLink},
	})
	if err != nil {
		return nil, err
	}
	var pairs []*models.RecordPair
	for _, p := range improved {
		if !p.Properties.Has(models.PropertyNew) {
			continue
		}
		p.Properties.Remove(models.PropertyNew)
		p.AddLabelFromGrade()
		pairs = append(pairs, p)
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project.ID,
		"new":        len(pairs),
		"improved":   len(improved),
	}).Info("Updating matcher based on new improved links")

	return s.train(ctx, project, models.UpdateNewImproved, true, pairs)
}

func (s *Service) fit(ctx context.Context, project *models.LinkageProject, strategy models.MatcherUpdateType, allVersions bool, selected func(*models.RecordPair) bool) (*models.Matching, error) {
	all, err := s.stores.Pairs.ListPairs(ctx, project.ID, store.PairFilter{IncludeReplaced: allVersions})
	if err != nil {
		return nil, err
	}

	var candidates []*models.RecordPair
	for _, p := range all {
		if !selected(p) {
			continue
		}
		p.Properties.Remove(models.PropertyNew)
		p.AddLabelFromGrade()
		candidates = append(candidates, p)
	}
	pairs := dedupe(s.logger.WithContext(ctx), candidates)

	m, err := s.registry.Get(ctx, project.Method)
	if err != nil {
		return nil, err
	}
	s.provideSimilarityDistribution(ctx, m, models.CurrentPairs(all))

	return s.trainMatcher(ctx, project, m, strategy, false, pairs)
}

func (s *Service) train(ctx context.Context, project *models.LinkageProject, strategy models.MatcherUpdateType, incremental bool, pairs []*models.RecordPair) (*models.Matching, error) {
	m, err := s.registry.Get(ctx, project.Method)
	if err != nil {
		return nil, err
	}
	return s.trainMatcher(ctx, project, m, strategy, incremental, pairs)
}

// trainMatcher trains m, stores its definition and writes the pairs back
// without their labels.
func (s *Service) trainMatcher(ctx context.Context, project *models.LinkageProject, m matcher.Matcher, strategy models.MatcherUpdateType, incremental bool, pairs []*models.RecordPair) (*models.Matching, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project.ID,
		"method":     m.Method(),
		"strategy":   strategy,
		"count":      len(pairs),
	})

	outcome := outcomeUpdated
	if len(pairs) == 0 {
		log.Warn("No labelled pairs to train the matcher with")
		outcome = outcomeSkipped
	} else {
		trained, err := s.TrainMatcher(ctx, m, incremental, pairs)
		if err != nil {
			return nil, err
		}
		if err := s.registry.Persist(ctx, trained); err != nil {
			return nil, err
		}
	}

	for _, p := range pairs {
		p.RemoveLabels()
	}
	if err := s.lifecycle.UpdatePairs(ctx, project.ID, pairs, true); err != nil {
		return nil, err
	}

	metrics.RetrainingUpdatesTotal.WithLabelValues(string(strategy), outcome).Inc()
	s.events.EmitMatcherUpdated(ctx, m.Method(), string(strategy), len(pairs))
	return s.stores.Matchings.GetMatching(ctx, m.Method())
}

// dedupe keeps one training pair per pair id: the current improved link,
// else a link fetched from the parent, else the current versions.
func dedupe(log ectologger.Logger, pairs []*models.RecordPair) []*models.RecordPair {
	byPairID := map[string][]*models.RecordPair{}
	var order []string
	for _, p := range pairs {
		if _, ok := byPairID[p.PairID]; !ok {
			order = append(order, p.PairID)
		}
		byPairID[p.PairID] = append(byPairID[p.PairID], p)
	}

	out := make([]*models.RecordPair, 0, len(order))
	for _, id := range order {
		out = append(out, pick(log, byPairID[id])...)
	}
	return out
}

func pick(log ectologger.Logger, versions []*models.RecordPair) []*models.RecordPair {
	for _, p := range versions {
		if p.IsCurrent() && p.Properties.Has(models.PropertyImprovedLink) {
			return []*models.RecordPair{p}
		}
	}
	for _, p := range versions {
		if p.Properties.Has(models.PropertyUnreportableLink) {
			return []*models.RecordPair{p}
		}
	}
	current := models.CurrentPairs(versions)
	if len(current) > 1 {
		log.WithFields(map[string]any{
			"pair_id": versions[0].PairID,
			"count":   len(current),
		}).Warn("More than one current version of a training pair")
	}
	return current
}

// provideSimilarityDistribution hands a threshold-trainable classifier the
// similarity histogram of the current pairs, unless it already has one.
func (s *Service) provideSimilarityDistribution(ctx context.Context, m matcher.Matcher, current []*models.RecordPair) {
	db, ok := m.(matcher.DatasetBased)
	if !ok {
		return
	}
	classifier, ok := db.Classifier().(matcher.ThresholdTrainable)
	if !ok {
		return
	}
	log := s.logger.WithContext(ctx).WithField("method", m.Method())
	if classifier.SimilarityDistribution() != nil {
		log.Debug("Similarity distribution already provided")
		return
	}

	sims := make([]float64, len(current))
	for i, p := range current {
		sims[i] = p.Similarity
	}
	log.WithField("count", len(sims)).Info("Providing similarity distribution to threshold classifier")
	classifier.SetSimilarityDistribution(matcher.NewHistogram(sims, s.config.DistributionBinSize))
}

// ============================================================================
// 3️⃣ Ground truth training and reclassification
// ============================================================================

// TrainWithGroundTruth trains a copy of a matcher on a dataset labelled by
// its ground truth and stores it as method/trained/{dataset}/{id}.
func (s *Service) TrainWithGroundTruth(ctx context.Context, req models.MatcherTrainingRequest) (*models.Matching, error) {
	ctx, span := tracing.StartSpan(ctx, "retraining.Service.TrainWithGroundTruth")
	defer span.End()

	maxSim := req.MaxSimilarity
	if maxSim == 0 {
		maxSim = 1
	}
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     req.Method,
		"dataset_id": req.DatasetID,
		"min_sim":    req.MinSimilarity,
		"max_sim":    maxSim,
	})

	gt, err := s.stores.GroundTruth.GetGroundTruth(ctx, req.DatasetID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewLinkageError(models.ErrNotFound, "no ground truth found for dataset %s", req.DatasetID)
		}
		return nil, err
	}
	base, err := s.registry.Get(ctx, req.Method)
	if err != nil {
		return nil, err
	}
	db, ok := base.(matcher.DatasetBased)
	if !ok {
		log.Warn("Matcher is not dataset based and cannot be trained")
		return s.stores.Matchings.GetMatching(ctx, req.Method)
	}

	trainedMethod := req.Method + "/trained/" + req.DatasetID + "/" + s.newID()
	log = log.WithField("trained_method", trainedMethod)
	if err := s.registry.Persist(ctx, db.WithMethod(trainedMethod)); err != nil {
		return nil, err
	}

	matching, err := s.trainOnDisposableProject(ctx, log, base, trainedMethod, req.DatasetID, gt, req.MinSimilarity, maxSim)
	if err != nil {
		if derr := s.registry.Delete(context.WithoutCancel(ctx), trainedMethod); derr != nil {
			log.WithError(derr).Error("Failed to delete trained matcher after failed training")
		}
		return nil, err
	}
	log.Info("Persisted trained matcher")
	return matching, nil
}

func (s *Service) trainOnDisposableProject(
	ctx context.Context,
	log ectologger.Logger,
	base matcher.Matcher,
	trainedMethod string,
	datasetID string,
	gt *models.GroundTruth,
	minSim, maxSim float64,
) (*models.Matching, error) {
	project, err := s.sm.CreateProject(ctx, models.CreateProjectRequest{
		DatasetID:   datasetID,
		Method:      trainedMethod,
		Description: "disposable training project",
		Interactive: true,
	})
	if err != nil {
		return nil, err
	}
	log = log.WithField("project_id", project.ID)
	defer func() {
		if err := s.sm.DeleteProject(context.WithoutCancel(ctx), project.ID, false); err != nil {
			log.WithError(err).Error("Failed to delete disposable training project")
		}
	}()

	if _, err := s.sm.RunTo(ctx, project.ID, models.PhaseClassification); err != nil {
		return nil, err
	}
	pairs, err := s.stores.Pairs.ListPairs(ctx, project.ID, store.PairFilter{})
	if err != nil {
		return nil, err
	}

	labelled := make([]*models.RecordPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Similarity <= minSim || p.Similarity >= maxSim {
			continue
		}
		c := p.Duplicate()
		c.RemoveLabels()
		if gt.IsTrueMatch(c.PairID) {
			c.Tags.Set(models.NewTag(models.TagTrueMatch))
		} else {
			c.Tags.Set(models.NewTag(models.TagTrueNonMatch))
		}
		labelled = append(labelled, c)
	}
	log.WithFields(map[string]any{
		"labelled": len(labelled),
		"total":    len(pairs),
	}).Debug("Labelled training pairs from ground truth")

	trained, err := s.TrainMatcher(ctx, base, false, labelled)
	if err != nil {
		return nil, err
	}
	if db, ok := trained.(matcher.DatasetBased); ok {
		trained = db.WithMethod(trainedMethod)
	}
	if err := s.registry.Persist(ctx, trained); err != nil {
		return nil, err
	}
	s.events.EmitMatcherUpdated(ctx, trainedMethod, "GROUND_TRUTH", len(labelled))
	return s.stores.Matchings.GetMatching(ctx, trainedMethod)
}

// Reclassify reruns the classifier over the current pairs that were not
// improved by the parent layer.
func (s *Service) Reclassify(ctx context.Context, projectID string) error {
	ctx, span := tracing.StartSpan(ctx, "retraining.Service.Reclassify")
	defer span.End()

	return s.sm.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		project, err := s.sm.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		current, err := s.stores.Pairs.ListPairs(ctx, project.ID, store.PairFilter{})
		if err != nil {
			return err
		}

		pairs := make([]*models.RecordPair, 0, len(current))
		for _, p := range current {
			if p.Properties.Has(models.PropertyImprovedLink) {
				continue
			}
			p.Properties.Add(models.PropertyActive)
			p.Properties.Remove(models.PropertyNew)
			p.Tags.Remove(models.TagRemovedByClassifier, models.TagRemovedByPostprocessing)
			pairs = append(pairs, p)
		}
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"project_id": project.ID,
			"count":      len(pairs),
			"improved":   len(current) - len(pairs),
		}).Info("Reclassifying record pairs")

		m, err := s.registry.Get(ctx, project.Method)
		if err != nil {
			return err
		}
		return m.ReclassifyRecordPairs(ctx, s.sm.Dataset(project), pairs)
	})
}
