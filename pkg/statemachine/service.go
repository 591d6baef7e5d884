// Package statemachine advances linkage projects through their phases and
// dispatches each phase to the project's matcher.
package statemachine

import (
	"context"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/matcher"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/selection"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// WishCreator creates the encoding wishes of the links selected for
// escalation.
type WishCreator interface {
	CreateEncodingWishes(ctx context.Context, project *models.LinkageProject, pairs []*models.RecordPair) ([]*models.EncodingWish, error)
}

// Service is the project state machine.
type Service struct {
	logger    ectologger.Logger
	stores    store.Stores
	lifecycle *lifecycle.Manager
	selector  *selection.Selector
	registry  *matcher.Registry
	wishes    WishCreator
	locker    Locker
	events    events.EventSink
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the project state machine.
func NewService(
	logger ectologger.Logger,
	stores store.Stores,
	manager *lifecycle.Manager,
	selector *selection.Selector,
	registry *matcher.Registry,
	wishes WishCreator,
	locker Locker,
	sink events.EventSink,
	opts ...Option,
) *Service {
	if sink == nil {
		sink = events.Noop{}
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	s := &Service{
		logger:    logger,
		stores:    stores,
		lifecycle: manager,
		selector:  selector,
		registry:  registry,
		wishes:    wishes,
		locker:    locker,
		events:    sink,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dataset returns the dataset handle of a project.
func (s *Service) Dataset(project *models.LinkageProject) *Dataset {
	return NewDataset(project, s.stores, s.lifecycle, s.logger)
}

func observe(operation string) func() {
	timer := prometheus.NewTimer(metrics.OperationDuration.WithLabelValues(operation))
	return func() { timer.ObserveDuration() }
}

// ============================================================================
// 1️⃣ Projects
// ============================================================================

// CreateProject stores a new project in COLLECTING.
func (s *Service) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.CreateProject")
	defer span.End()

	if strings.TrimSpace(req.DatasetID) == "" {
		return nil, models.NewLinkageError(models.ErrValidation, "no dataset id set for project %s", req.ID)
	}
	project := &models.LinkageProject{
		ID:              req.ID,
		DatasetID:       req.DatasetID,
		Method:          req.Method,
		Description:     req.Description,
		State:           models.PhaseCollecting,
		Interactive:     req.Interactive,
		Config:          map[string]string{},
		PhaseTimestamps: map[models.ProjectPhase]time.Time{},
	}
	for k, v := range req.Config {
		project.Config[k] = v
	}
	if err := s.stores.Projects.CreateProject(ctx, project); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to create project")
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project.ID,
		"dataset_id": project.DatasetID,
		"method":     project.Method,
	}).Info("Created project")
	return project, nil
}

// GetProject loads a project.
func (s *Service) GetProject(ctx context.Context, projectID string) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.GetProject")
	defer span.End()

	project, err := s.stores.Projects.GetProject(ctx, projectID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, models.NewLinkageError(models.ErrNotFound, "project %s not found", projectID)
		}
		return nil, err
	}
	return project, nil
}

// ListProjects returns all projects.
func (s *Service) ListProjects(ctx context.Context) ([]*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.ListProjects")
	defer span.End()

	return s.stores.Projects.ListProjects(ctx)
}

// SetState moves the project to state without running a phase.
func (s *Service) SetState(ctx context.Context, project *models.LinkageProject, state models.ProjectPhase) error {
	return s.transition(ctx, project, state)
}

// transition records the new state and saves the project.
func (s *Service) transition(ctx context.Context, project *models.LinkageProject, to models.ProjectPhase) error {
	from := project.State
	project.State = to
	project.MarkPhase(to, s.now())
	if err := s.save(ctx, project); err != nil {
		return err
	}

	metrics.PhaseTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.events.EmitPhaseChanged(ctx, project, from)
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project.ID,
		"from":       from,
		"state":      to,
	}).Info("Project phase changed")
	return nil
}

func (s *Service) save(ctx context.Context, project *models.LinkageProject) error {
	project.LastUpdated = s.now()
	if err := s.stores.Projects.SaveProject(ctx, project); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("project_id", project.ID).Error("Failed to save project")
		if models.IsConflict(err) {
			return models.NewLinkageError(models.ErrConflict, "project %s was modified concurrently", project.ID)
		}
		return err
	}
	return nil
}

func (s *Service) matcherFor(ctx context.Context, project *models.LinkageProject) (matcher.Matcher, error) {
	return s.registry.Get(ctx, project.Method)
}

// locked loads the project under its lock and runs fn.
func (s *Service) locked(ctx context.Context, projectID string, fn func(ctx context.Context, project *models.LinkageProject) error) (*models.LinkageProject, error) {
	var project *models.LinkageProject
	err := s.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		p, err := s.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		project = p
		return fn(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

// ============================================================================
// 2️⃣ Forward transitions
// ============================================================================

// RunNext runs the phase following the project's current state. A
// non-interactive project runs the whole pipeline at once.
func (s *Service) RunNext(ctx context.Context, projectID string) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.RunNext")
	defer span.End()
	defer observe("run_next")()

	return s.locked(ctx, projectID, s.runNext)
}

func (s *Service) runNext(ctx context.Context, project *models.LinkageProject) error {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project.ID,
		"state":      project.State,
	})

	m, err := s.matcherFor(ctx, project)
	if err != nil {
		return err
	}
	ds := s.Dataset(project)

	if !project.Interactive {
		if project.State == models.PhaseClustering {
			return nil
		}
		log.Info("Running complete matching")
		if err := m.RunAll(ctx, ds); err != nil {
			log.WithError(err).Error("Failed to run matcher")
			return err
		}
		return s.transition(ctx, project, models.PhaseClustering)
	}

	switch project.State {
	case models.PhaseCollecting:
		records, err := ds.Records(ctx)
		if err != nil {
			return err
		}
		log.WithField("count", len(records)).Info("Running blocking and linking")
		if err := m.RunBlockedLinking(ctx, ds, records); err != nil {
			log.WithError(err).Error("Failed to run blocked linking")
			return err
		}
		return s.transition(ctx, project, models.PhaseClassification)

	case models.PhaseBlocking:
		log.Info("Comparing and classifying active pairs")
		if err := m.CompareAndClassifyActive(ctx, ds); err != nil {
			log.WithError(err).Error("Failed to compare active pairs")
			return err
		}
		return s.transition(ctx, project, models.PhaseClassification)

	case models.PhaseLinking:
		pairs, err := ds.Pairs(ctx)
		if err != nil {
			return err
		}
		log.WithField("count", len(pairs)).Info("Reclassifying pairs")
		if err := m.ReclassifyRecordPairs(ctx, ds, pairs); err != nil {
			log.WithError(err).Error("Failed to reclassify pairs")
			return err
		}
		return s.transition(ctx, project, models.PhaseLinking)

	case models.PhaseClassification:
		log.Info("Running postprocessing")
		if err := m.RunPostProcessing(ctx, ds); err != nil {
			log.WithError(err).Error("Failed to run postprocessing")
			return err
		}
		if err := s.escalate(ctx, project); err != nil {
			log.WithError(err).Error("Failed to escalate uncertain links")
			return err
		}
		return s.transition(ctx, project, models.PhasePostprocessing)

	case models.PhasePostprocessing:
		log.Info("Running clustering")
		if err := m.RunClustering(ctx, ds); err != nil {
			log.WithError(err).Error("Failed to run clustering")
			return err
		}
		return s.transition(ctx, project, models.PhaseClustering)

	case models.PhaseClustering:
		log.Debug("Project is complete")
		return nil

	default:
		return models.NewLinkageError(models.ErrValidation, "project %s has unknown state %q", project.ID, project.State)
	}
}

// escalate selects the uncertain links and creates their encoding wishes.
func (s *Service) escalate(ctx context.Context, project *models.LinkageProject) error {
	selected, err := s.selector.DetermineUncertainLinks(ctx, project, -1)
	if err != nil {
		return err
	}
	s.events.EmitUncertainLinksSelected(ctx, project, len(selected))
	if s.wishes == nil {
		return nil
	}
	_, err = s.wishes.CreateEncodingWishes(ctx, project, selected)
	return err
}

// RunTo runs phases until the project reaches target, or until a phase
// leaves the state unchanged. An empty target does nothing.
func (s *Service) RunTo(ctx context.Context, projectID string, target models.ProjectPhase) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.RunTo")
	defer span.End()
	defer observe("run_to")()

	return s.locked(ctx, projectID, func(ctx context.Context, project *models.LinkageProject) error {
		return s.runTo(ctx, project, target)
	})
}

func (s *Service) runTo(ctx context.Context, project *models.LinkageProject, target models.ProjectPhase) error {
	if target == "" {
		return nil
	}
	for !project.State.IsAtLeast(target) {
		before := project.State
		if err := s.runNext(ctx, project); err != nil {
			return err
		}
		if project.State == before {
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"project_id": project.ID,
				"state":      project.State,
				"target":     target,
			}).Warn("Project did not advance, stopping")
			return nil
		}
	}
	return nil
}

// RunForNewRecords links the records flagged NEW without recomputing the
// whole project.
func (s *Service) RunForNewRecords(ctx context.Context, projectID string) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.RunForNewRecords")
	defer span.End()
	defer observe("run_new_records")()

	return s.locked(ctx, projectID, func(ctx context.Context, project *models.LinkageProject) error {
		log := s.logger.WithContext(ctx).WithFields(map[string]any{
			"project_id": project.ID,
			"state":      project.State,
		})
		if !project.State.IsAtMost(models.PhaseClassification) {
			log.Warn("Cannot link new records of a project after classification")
			return nil
		}

		records, err := s.stores.Records.ListRecordsWithProperty(ctx, project.DatasetID, models.PropertyNew)
		if err != nil {
			return err
		}
		for _, r := range records {
			r.Properties.Remove(models.PropertyNew)
		}
		log.WithField("count", len(records)).Info("Linking new records")

		m, err := s.matcherFor(ctx, project)
		if err != nil {
			return err
		}
		if err := m.RunBlockedLinking(ctx, s.Dataset(project), records); err != nil {
			log.WithError(err).Error("Failed to link new records")
			return err
		}
		if err := s.stores.Records.UpsertRecords(ctx, project.DatasetID, records); err != nil {
			return err
		}
		return s.transition(ctx, project, models.PhaseClassification)
	})
}

// CompareNewPairs compares and classifies the pairs flagged NEW.
func (s *Service) CompareNewPairs(ctx context.Context, projectID string) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.CompareNewPairs")
	defer span.End()
	defer observe("compare_new_pairs")()

	return s.locked(ctx, projectID, func(ctx context.Context, project *models.LinkageProject) error {
		log := s.logger.WithContext(ctx).WithFields(map[string]any{
			"project_id": project.ID,
			"state":      project.State,
		})
		if !project.State.IsAtMost(models.PhaseClassification) {
			log.Warn("Cannot compare new pairs of a project after classification")
			return nil
		}

		ds := s.Dataset(project)
		pairs, err := ds.PairsWithProperties(ctx, models.PropertyNew)
		if err != nil {
			return err
		}
		log.WithField("count", len(pairs)).Info("Comparing new pairs")

		m, err := s.matcherFor(ctx, project)
		if err != nil {
			return err
		}
		if err := m.CompareRecordPairs(ctx, ds, pairs); err != nil {
			log.WithError(err).Error("Failed to compare new pairs")
			return err
		}
		return s.transition(ctx, project, models.PhaseLinking)
	})
}
