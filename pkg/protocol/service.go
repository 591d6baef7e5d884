// Package protocol implements the link improvement protocol between
// linkage layers: escalating uncertain links, reporting classified links to
// the parent and fetching the parent's reclassified links back.
package protocol

import (
	"context"
	"net/http"
	"sort"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/lifecycle"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/selection"
	"github.com/Ramsey-B/clover/pkg/statemachine"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Service runs the protocol operations of one linkage unit.
type Service struct {
	logger    ectologger.Logger
	sm        *statemachine.Service
	stores    store.Stores
	lifecycle *lifecycle.Manager
	selector  *selection.Selector
	wishes    *WishService
	parent    Parent
	events    events.EventSink
	config    Config
}

// NewService creates the protocol service. A nil parent means the parent
// projects live in this process.
func NewService(
	logger ectologger.Logger,
	sm *statemachine.Service,
	stores store.Stores,
	manager *lifecycle.Manager,
	selector *selection.Selector,
	wishes *WishService,
	parent Parent,
	sink events.EventSink,
	config Config,
) *Service {
	if sink == nil {
		sink = events.Noop{}
	}
	s := &Service{
		logger:    logger,
		sm:        sm,
		stores:    stores,
		lifecycle: manager,
		selector:  selector,
		wishes:    wishes,
		parent:    parent,
		events:    sink,
		config:    config,
	}
	if s.parent == nil {
		s.parent = NewLocalParent(s)
	}
	return s
}

// ============================================================================
// 1️⃣ Uncertain links and encoding wishes
// ============================================================================

// DetermineUncertainLinks flags up to limit/2 uncertain links of the project.
func (s *Service) DetermineUncertainLinks(ctx context.Context, projectID string, limit int) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.Service.DetermineUncertainLinks")
	defer span.End()

	var selected []*models.RecordPair
	err := s.sm.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		project, err := s.sm.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		selected, err = s.selector.DetermineUncertainLinks(ctx, project, limit)
		if err != nil {
			return err
		}
		s.events.EmitUncertainLinksSelected(ctx, project, len(selected))
		return nil
	})
	return selected, err
}

// GetUncertainPairsForPairIDs returns the current uncertain links of the
// project with the given pair ids.
func (s *Service) GetUncertainPairsForPairIDs(ctx context.Context, projectID string, pairIDs []string) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.Service.GetUncertainPairsForPairIDs")
	defer span.End()

	if len(pairIDs) == 0 {
		return []*models.RecordPair{}, nil
	}
	if _, err := s.sm.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.stores.Pairs.ListPairs(ctx, projectID, store.PairFilter{
		Properties: []models.Property{models.PropertyUncertainLink},
		PairIDs:    pairIDs,
	})
}

// GetEncodingWishes returns the project's wishes. With create set, uncertain
// links are selected and their wishes created first.
func (s *Service) GetEncodingWishes(ctx context.Context, projectID string, create bool, limit int) ([]*models.EncodingWish, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.Service.GetEncodingWishes")
	defer span.End()

	if create {
		err := s.sm.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
			project, err := s.sm.GetProject(ctx, projectID)
			if err != nil {
				return err
			}
			selected, err := s.selector.DetermineUncertainLinks(ctx, project, limit)
			if err != nil {
				return err
			}
			s.events.EmitUncertainLinksSelected(ctx, project, len(selected))
			_, err = s.wishes.CreateEncodingWishes(ctx, project, selected)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else if _, err := s.sm.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.wishes.ListEncodingWishes(ctx, projectID, limit)
}

// DeleteEncodingWishes drops the project's wishes.
func (s *Service) DeleteEncodingWishes(ctx context.Context, projectID string) error {
	ctx, span := tracing.StartSpan(ctx, "protocol.Service.DeleteEncodingWishes")
	defer span.End()

	if _, err := s.sm.GetProject(ctx, projectID); err != nil {
		return err
	}
	return s.wishes.DeleteEncodingWishes(ctx, projectID)
}

// ============================================================================
// 2️⃣ Report to the parent
// ============================================================================

// ReportClassifiedPairs sends the project's classified, reportable links to
// its parent project as improved links and flags them REPORTED_LINK. A
// project without a parent reports nothing.
func (s *Service) ReportClassifiedPairs(ctx context.Context, projectID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.Service.ReportClassifiedPairs")
	defer span.End()

	reported := 0
	err := s.sm.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		project, err := s.sm.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		log := s.logger.WithContext(ctx).WithField("project_id", project.ID)

		parentID, ok := project.ParentProjectID()
		if !ok {
			log.Warn("Project has no parent project to report to")
			return nil
		}
		log = log.WithField("parent_project_id", parentID)

		config, err := s.config.ForProject(project)
		if err != nil {
			return err
		}
		classified, err := s.sm.Dataset(project).ClassifiedPairs(ctx)
		if err != nil {
			return err
		}
		pairs := reportable(classified, config.ReportOnlyOnce)
		if len(pairs) == 0 {
			log.Info("No classified pairs to report")
			return nil
		}

		dtos := make([]*models.RecordPair, len(pairs))
		for i, p := range pairs {
			dtos[i] = improvedLink(project, parentID, p)
		}
		if err := s.parent.ReportPairs(ctx, parentID, dtos, true); err != nil {
			log.WithError(err).Error("Failed to report pairs to parent project")
			return err
		}

		for _, p := range pairs {
			p.Properties.Add(models.PropertyReportedLink)
			if project.IsClericalReviewMethod() {
				p.Properties.Add(models.PropertyImprovedLink)
			}
		}
		if err := s.lifecycle.UpdatePairs(ctx, project.ID, pairs, true); err != nil {
			return err
		}

		reported = len(pairs)
		metrics.PairsReportedTotal.WithLabelValues(s.parent.Delivery()).Add(float64(reported))
		s.events.EmitPairsReported(ctx, project, parentID, reported)
		log.WithField("count", reported).Info("Reported classified pairs to parent project")
		return nil
	})
	return reported, err
}

func reportable(pairs []*models.RecordPair, onlyOnce bool) []*models.RecordPair {
	out := make([]*models.RecordPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Properties.Has(models.PropertyUnreportableLink) {
			continue
		}
		if onlyOnce && p.Properties.Has(models.PropertyReportedLink) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// improvedLink is the copy of a pair sent to the parent.
func improvedLink(project *models.LinkageProject, parentID string, p *models.RecordPair) *models.RecordPair {
	dto := p.Duplicate()
	dto.ProjectID = parentID
	dto.AttributeSimilarities = nil
	dto.Properties.Add(models.PropertyImprovedLink)
	dto.Properties.Remove(models.PropertyUncertainLink, models.PropertyReportedLink)
	if !dto.Tags.Has(models.TagEncodingMethod) {
		dto.Tags.Set(models.Tag{Key: models.TagEncodingMethod, StringValue: project.Method})
	}
	return dto
}

// ============================================================================
// 3️⃣ Fetch from the parent
// ============================================================================

// FetchUncertainFromParent pulls the parent's versions of the links this
// project received as re-encoded record pairs and stores them as NEW,
// unreportable pairs.
func (s *Service) FetchUncertainFromParent(ctx context.Context, projectID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.Service.FetchUncertainFromParent")
	defer span.End()

	fetched := 0
	err := s.sm.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		project, err := s.sm.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		fetched, err = s.fetch(ctx, project)
		return err
	})
	return fetched, err
}

// FetchAndCompare fetches from the parent, compares the fetched pairs and
// moves the project back to classification.
func (s *Service) FetchAndCompare(ctx context.Context, projectID string) (*models.LinkageProject, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.Service.FetchAndCompare")
	defer span.End()

	var result *models.LinkageProject
	err := s.sm.WithProjectLock(ctx, projectID, func(ctx context.Context) error {
		project, err := s.sm.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		n, err := s.fetch(ctx, project)
		if err != nil {
			return err
		}
		result = project
		if n == 0 {
			return nil
		}

		project, err = s.sm.CompareNewPairs(ctx, projectID)
		if err != nil {
			return err
		}
		result = project
		if !project.State.IsAtMost(models.PhaseClassification) {
			return nil
		}
		return s.sm.SetState(ctx, project, models.PhaseClassification)
	})
	return result, err
}

func (s *Service) fetch(ctx context.Context, project *models.LinkageProject) (int, error) {
	log := s.logger.WithContext(ctx).WithField("project_id", project.ID)

	parentID, ok := project.ParentProjectID()
	if !ok {
		log.Warn("Project has no parent project to fetch from")
		return 0, nil
	}
	log = log.WithField("parent_project_id", parentID)

	records, err := s.stores.Records.ListRecordsWithProperty(ctx, project.DatasetID, models.PropertyNew)
	if err != nil {
		return 0, err
	}
	local := s.blockPairs(log, records)
	if len(local) == 0 {
		log.Info("No new record pairs to fetch")
		return 0, nil
	}

	pairIDs := make([]string, 0, len(local))
	for id := range local {
		pairIDs = append(pairIDs, id)
	}
	sort.Strings(pairIDs)

	remote, err := s.parent.FetchUncertainPairs(ctx, parentID, pairIDs)
	if err != nil {
		log.WithError(err).Error("Failed to fetch uncertain pairs from parent project")
		return 0, err
	}

	pairs := make([]*models.RecordPair, 0, len(remote))
	for _, r := range remote {
		p, err := reconcile(project.ID, r, local)
		if err != nil {
			log.WithError(err).Error("Fetched pair does not match the local records")
			return 0, err
		}
		pairs = append(pairs, p)
	}

	if err := s.clearNewFlag(ctx, project.DatasetID, records, local); err != nil {
		return 0, err
	}
	if _, err := s.lifecycle.AddPairs(ctx, project.ID, pairs); err != nil {
		return 0, err
	}
	if project.State.IsAtMost(models.PhaseBlocking) {
		if err := s.sm.SetState(ctx, project, models.PhaseBlocking); err != nil {
			return 0, err
		}
	}

	metrics.PairsFetchedTotal.Add(float64(len(pairs)))
	s.events.EmitPairsFetched(ctx, project, len(pairs))
	log.WithFields(map[string]any{
		"requested": len(pairIDs),
		"count":     len(pairs),
	}).Info("Fetched uncertain pairs from parent project")
	return len(pairs), nil
}

// blockPairs groups re-encoded records by block id. Each block must hold
// exactly the two records of one escalated pair.
func (s *Service) blockPairs(log ectologger.Logger, records []*models.Record) map[string]*models.RecordPair {
	blocks := map[string][]*models.Record{}
	for _, r := range records {
		blocks[r.ID.BlockID] = append(blocks[r.ID.BlockID], r)
	}

	pairs := make(map[string]*models.RecordPair, len(blocks))
	for block, members := range blocks {
		if len(members) != 2 {
			log.WithFields(map[string]any{
				"block_id": block,
				"size":     len(members),
			}).Error("Skipping block that does not hold exactly two records")
			continue
		}
		p := models.NewRecordPair(members[0].ID, members[1].ID)
		pairs[p.PairID] = p
	}
	return pairs
}

// reconcile maps a parent pair onto the local record ids of the same pair in
// either orientation.
// clearNewFlag drops NEW from the records that formed a block pair. Records
// still waiting for their partner keep it.
func (s *Service) clearNewFlag(ctx context.Context, datasetID string, records []*models.Record, local map[string]*models.RecordPair) error {
	paired := make(map[string]struct{}, 2*len(local))
	for _, p := range local {
		paired[p.LeftRecordID.UniqueLikeID()] = struct{}{}
		paired[p.RightRecordID.UniqueLikeID()] = struct{}{}
	}

	cleared := make([]*models.Record, 0, len(paired))
	for _, r := range records {
		if _, ok := paired[r.ID.UniqueLikeID()]; !ok {
			continue
		}
		r.Properties.Remove(models.PropertyNew)
		cleared = append(cleared, r)
	}
	if len(cleared) == 0 {
		return nil
	}
	return s.stores.Records.UpsertRecords(ctx, datasetID, cleared)
}

func reconcile(projectID string, remote *models.RecordPair, local map[string]*models.RecordPair) (*models.RecordPair, error) {
	p := remote.Duplicate()
	p.Normalize()

	l, ok := local[p.PairID]
	if !ok {
		return nil, models.NewLinkageError(models.ErrReconciliation, "pair %s was not requested", p.PairID).AddMeta("pair_id", p.PairID)
	}
	left, right := p.LeftRecordID.UniqueLikeID(), p.RightRecordID.UniqueLikeID()
	switch {
	case left == l.LeftRecordID.UniqueLikeID() && right == l.RightRecordID.UniqueLikeID():
		p.LeftRecordID, p.RightRecordID = l.LeftRecordID, l.RightRecordID
	case left == l.RightRecordID.UniqueLikeID() && right == l.LeftRecordID.UniqueLikeID():
		p.LeftRecordID, p.RightRecordID = l.RightRecordID, l.LeftRecordID
	default:
		return nil, models.NewLinkageError(models.ErrReconciliation, "pair %s does not match local records", p.PairID).AddMeta("pair_id", p.PairID)
	}

	p.ProjectID = projectID
	p.Properties.Add(models.PropertyUnreportableLink, models.PropertyNew)
	p.Properties.Remove(models.PropertyReportedLink, models.PropertyUncertainLink, models.PropertyReplaced)
	p.Normalize()
	return p, nil
}

// ============================================================================
// 4️⃣ Receive from a child
// ============================================================================

// ReceivePairs stores pairs reported by a child layer. All pairs must belong
// to one project. With merge set they are merged as improved links,
// otherwise added as fresh candidates.
func (s *Service) ReceivePairs(ctx context.Context, pairs []*models.RecordPair, merge bool) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.Service.ReceivePairs")
	defer span.End()

	projectID, err := singleProject(pairs)
	if err != nil {
		return nil, err
	}
	if _, err := s.sm.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"project_id": projectID,
		"count":      len(pairs),
		"merge":      merge,
	}).Info("Receiving record pairs")

	if merge {
		return s.lifecycle.MergeNewImproved(ctx, projectID, pairs)
	}
	return s.lifecycle.AddPairs(ctx, projectID, pairs)
}

// UpdatePairs merges updated versions of existing pairs.
func (s *Service) UpdatePairs(ctx context.Context, pairs []*models.RecordPair) ([]*models.RecordPair, error) {
	ctx, span := tracing.StartSpan(ctx, "protocol.Service.UpdatePairs")
	defer span.End()

	projectID, err := singleProject(pairs)
	if err != nil {
		return nil, err
	}
	if _, err := s.sm.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.lifecycle.MergeUpdated(ctx, projectID, pairs)
}

func singleProject(pairs []*models.RecordPair) (string, error) {
	if len(pairs) == 0 {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "no record pairs given")
	}
	projectID := pairs[0].ProjectID
	if projectID == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "record pairs must name a project")
	}
	for _, p := range pairs[1:] {
		if p.ProjectID != projectID {
			return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "record pairs belong to more than one project: %s, %s", projectID, p.ProjectID)
		}
	}
	return projectID, nil
}
