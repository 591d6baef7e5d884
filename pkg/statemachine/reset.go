package statemachine

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ============================================================================
// 3️⃣ Reset
// ============================================================================

// Reset moves the project back to target. It is a no-op unless target is
// strictly before the current state.
func (s *Service) Reset(ctx context.Context, projectID string, target models.ProjectPhase) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.Reset")
	defer span.End()
	defer observe("reset")()

	return s.locked(ctx, projectID, func(ctx context.Context, project *models.LinkageProject) error {
		return s.reset(ctx, project, target)
	})
}

func (s *Service) reset(ctx context.Context, project *models.LinkageProject, target models.ProjectPhase) error {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project.ID,
		"state":      project.State,
		"target":     target,
	})
	if !target.Valid() {
		return models.NewLinkageError(models.ErrValidation, "unknown project phase %q", target)
	}
	if project.State.IsAtMost(target) {
		log.Warn("Cannot reset to a state that is not before the current state")
		return nil
	}
	log.Info("Resetting project")

	switch target {
	case models.PhaseCollecting:
		if err := s.stores.Pairs.DeleteProjectPairs(ctx, project.ID); err != nil {
			log.WithError(err).Error("Failed to delete record pairs")
			return err
		}
		project.ClearPhases(models.PhaseCollecting.Later()...)
	case models.PhaseClassification:
		if err := s.restorePostprocessed(ctx, project); err != nil {
			return err
		}
		project.ClearPhases(models.PhaseClassification.Later()...)
	}
	if target.IsAtMost(models.PhasePostprocessing) {
		if err := s.stores.Clusters.DeleteClusters(ctx, project.ID); err != nil {
			log.WithError(err).Error("Failed to delete clusters")
			return err
		}
	}

	from := project.State
	project.State = target
	if err := s.save(ctx, project); err != nil {
		return err
	}
	s.events.EmitProjectReset(ctx, project, from)
	return nil
}

// restorePostprocessed reactivates the pairs removed by postprocessing.
func (s *Service) restorePostprocessed(ctx context.Context, project *models.LinkageProject) error {
	pairs, err := s.stores.Pairs.ListPairs(ctx, project.ID, store.PairFilter{})
	if err != nil {
		return err
	}
	restored := make([]*models.RecordPair, 0, len(pairs))
	for _, p := range pairs {
		if !p.Tags.Has(models.TagRemovedByPostprocessing) {
			continue
		}
		p.Tags.Remove(models.TagRemovedByPostprocessing)
		p.Properties.Add(models.PropertyActive)
		restored = append(restored, p)
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": project.ID,
		"count":      len(restored),
	}).Debug("Restoring pairs removed by postprocessing")
	return s.lifecycle.UpdatePairs(ctx, project.ID, restored, true)
}

// ResetChain resets the project and, with includeParents, every project up
// its parent chain.
func (s *Service) ResetChain(ctx context.Context, projectID string, target models.ProjectPhase, includeParents bool) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.ResetChain")
	defer span.End()

	ids := []string{projectID}
	if includeParents {
		chain, err := s.parentChain(ctx, projectID)
		if err != nil {
			return nil, err
		}
		ids = chain
	}

	var first *models.LinkageProject
	for _, id := range ids {
		project, err := s.Reset(ctx, id, target)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = project
		}
	}
	return first, nil
}

// Run resets the project to from and runs it to to.
func (s *Service) Run(ctx context.Context, projectID string, from, to models.ProjectPhase) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.Run")
	defer span.End()
	defer observe("run")()

	return s.locked(ctx, projectID, func(ctx context.Context, project *models.LinkageProject) error {
		if from != "" {
			if err := s.reset(ctx, project, from); err != nil {
				return err
			}
		}
		return s.runTo(ctx, project, to)
	})
}

// parentChain returns the project followed by its parents, following
// PROJECT_ID_TO_REPORT_TO. The walk stops at a cycle or a missing parent.
func (s *Service) parentChain(ctx context.Context, projectID string) ([]string, error) {
	log := s.logger.WithContext(ctx).WithField("project_id", projectID)

	visited := map[string]struct{}{}
	var chain []string
	id := projectID
	for {
		if _, seen := visited[id]; seen {
			log.WithField("parent_id", id).Warn("Parent chain contains a cycle, stopping")
			return chain, nil
		}
		project, err := s.GetProject(ctx, id)
		if err != nil {
			if id != projectID && models.IsNotFound(err) {
				log.WithField("parent_id", id).Warn("Parent project not found, stopping")
				return chain, nil
			}
			return nil, err
		}
		visited[id] = struct{}{}
		chain = append(chain, id)

		parent, ok := project.ParentProjectID()
		if !ok {
			return chain, nil
		}
		id = parent
	}
}

// ============================================================================
// 4️⃣ Delete
// ============================================================================

// DeleteProject deletes the project with its pairs, clusters and wishes.
// With includeParents every project up the parent chain is deleted too.
func (s *Service) DeleteProject(ctx context.Context, projectID string, includeParents bool) error {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.DeleteProject")
	defer span.End()

	ids := []string{projectID}
	if includeParents {
		chain, err := s.parentChain(ctx, projectID)
		if err != nil {
			return err
		}
		ids = chain
	}
	for _, id := range ids {
		if _, err := s.locked(ctx, id, s.deleteProject); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deleteProject(ctx context.Context, project *models.LinkageProject) error {
	log := s.logger.WithContext(ctx).WithField("project_id", project.ID)
	log.Info("Deleting project")

	if err := s.stores.Pairs.DeleteProjectPairs(ctx, project.ID); err != nil {
		log.WithError(err).Error("Failed to delete record pairs")
		return err
	}
	if err := s.stores.Clusters.DeleteClusters(ctx, project.ID); err != nil {
		log.WithError(err).Error("Failed to delete clusters")
		return err
	}
	if err := s.stores.Wishes.DeleteWishes(ctx, project.ID); err != nil {
		log.WithError(err).Error("Failed to delete encoding wishes")
		return err
	}
	if err := s.stores.Projects.DeleteProject(ctx, project.ID); err != nil {
		log.WithError(err).Error("Failed to delete project")
		return err
	}
	s.events.EmitProjectDeleted(ctx, project)
	return nil
}

// CleanRecordPairs applies the project's RECORD_PAIR_LIMIT.
func (s *Service) CleanRecordPairs(ctx context.Context, projectID string) error {
	ctx, span := tracing.StartSpan(ctx, "statemachine.Service.CleanRecordPairs")
	defer span.End()

	_, err := s.locked(ctx, projectID, func(ctx context.Context, project *models.LinkageProject) error {
		return s.Dataset(project).CleanPairs(ctx)
	})
	return err
}
