// Package memory is a mutex-guarded in-memory implementation of the store
// interfaces, used by tests and by the memory store driver.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/store"
	"github.com/google/uuid"
)

type pairTable struct {
	order []string
	byID  map[string]*models.RecordPair
}

// Store holds all linkage state in memory.
type Store struct {
	mu          sync.RWMutex
	pairs       map[string]*pairTable
	projects    map[string]*models.LinkageProject
	records     map[string]map[string]*models.Record
	wishes      map[string][]*models.EncodingWish
	groundTruth map[string]*models.GroundTruth
	clusters    map[string][]*models.Cluster
	matchings   map[string]*models.Matching
	now         func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		pairs:       map[string]*pairTable{},
		projects:    map[string]*models.LinkageProject{},
		records:     map[string]map[string]*models.Record{},
		wishes:      map[string][]*models.EncodingWish{},
		groundTruth: map[string]*models.GroundTruth{},
		clusters:    map[string][]*models.Cluster{},
		matchings:   map[string]*models.Matching{},
		now:         time.Now,
	}
}

// Stores returns the store bundle backed by s.
func (s *Store) Stores() store.Stores {
	return store.Stores{
		Pairs:       s,
		Projects:    s,
		Records:     s,
		Wishes:      s,
		GroundTruth: s,
		Clusters:    s,
		Matchings:   s,
	}
}

// ====================================================================
// Pairs
// ====================================================================

func (s *Store) table(projectID string) *pairTable {
	t, ok := s.pairs[projectID]
	if !ok {
		t = &pairTable{byID: map[string]*models.RecordPair{}}
		s.pairs[projectID] = t
	}
	return t
}

func (s *Store) insertLocked(projectID string, pairs []*models.RecordPair) {
	t := s.table(projectID)
	now := s.now()
	for _, p := range pairs {
		p.ID = uuid.NewString()
		p.ProjectID = projectID
		p.Normalize()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		t.order = append(t.order, p.ID)
		t.byID[p.ID] = p.Clone()
	}
}

func (s *Store) updateLocked(projectID string, pairs []*models.RecordPair) error {
	t := s.table(projectID)
	for _, p := range pairs {
		if _, ok := t.byID[p.ID]; !ok {
			return httperror.NewHTTPErrorf(http.StatusNotFound, "record pair %s not found", p.ID)
		}
	}
	for _, p := range pairs {
		c := p.Clone()
		c.ProjectID = projectID
		t.byID[p.ID] = c
	}
	return nil
}

func (s *Store) InsertPairs(_ context.Context, projectID string, pairs []*models.RecordPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(projectID, pairs)
	return nil
}

func (s *Store) ReplacePairs(_ context.Context, projectID string, retired []*models.RecordPair, inserted []*models.RecordPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateLocked(projectID, retired); err != nil {
		return err
	}
	s.insertLocked(projectID, inserted)
	return nil
}

func (s *Store) UpdatePairs(_ context.Context, projectID string, pairs []*models.RecordPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(projectID, pairs)
}

func (s *Store) ListPairs(_ context.Context, projectID string, filter store.PairFilter) ([]*models.RecordPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.pairs[projectID]
	if !ok {
		return []*models.RecordPair{}, nil
	}
	out := make([]*models.RecordPair, 0, len(t.order))
	for _, id := range t.order {
		p := t.byID[id]
		if filter.Matches(p) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *Store) CountPairs(ctx context.Context, projectID string, filter store.PairFilter) (int, error) {
	pairs, err := s.ListPairs(ctx, projectID, filter)
	if err != nil {
		return 0, err
	}
	return len(pairs), nil
}

func (s *Store) DeletePairs(_ context.Context, projectID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pairs[projectID]
	if !ok {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
		delete(t.byID, id)
	}
	kept := t.order[:0]
	for _, id := range t.order {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	t.order = kept
	return nil
}

func (s *Store) DeleteProjectPairs(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, projectID)
	return nil
}

// ====================================================================
// Projects
// ====================================================================

func (s *Store) CreateProject(_ context.Context, project *models.LinkageProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if _, ok := s.projects[project.ID]; ok {
		return httperror.NewHTTPErrorf(http.StatusConflict, "project %s already exists", project.ID)
	}
	now := s.now()
	project.Version = 1
	project.CreatedAt = now
	project.LastUpdated = now
	s.projects[project.ID] = project.Clone()
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (*models.LinkageProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "project %s not found", id)
	}
	return p.Clone(), nil
}

func (s *Store) ListProjects(_ context.Context) ([]*models.LinkageProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.LinkageProject, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) SaveProject(_ context.Context, project *models.LinkageProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.projects[project.ID]
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "project %s not found", project.ID)
	}
	if stored.Version != project.Version {
		return httperror.NewHTTPErrorf(http.StatusConflict, "project %s was modified concurrently", project.ID)
	}
	project.Version++
	project.LastUpdated = s.now()
	s.projects[project.ID] = project.Clone()
	return nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.projects, id)
	return nil
}

// ====================================================================
// Records
// ====================================================================

func (s *Store) UpsertRecords(_ context.Context, datasetID string, records []*models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.records[datasetID]
	if !ok {
		ds = map[string]*models.Record{}
		s.records[datasetID] = ds
	}
	for _, r := range records {
		c := r.Clone()
		c.DatasetID = datasetID
		ds[r.ID.UniqueLikeID()] = c
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, datasetID string) ([]*models.Record, error) {
	return s.listRecords(datasetID, "")
}

func (s *Store) ListRecordsWithProperty(_ context.Context, datasetID string, property models.Property) ([]*models.Record, error) {
	return s.listRecords(datasetID, property)
}

func (s *Store) listRecords(datasetID string, property models.Property) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds := s.records[datasetID]
	out := make([]*models.Record, 0, len(ds))
	for _, r := range ds {
		if property != "" && !r.Properties.Has(property) {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.UniqueLikeID() < out[j].ID.UniqueLikeID() })
	return out, nil
}

// ====================================================================
// Wishes, ground truth, clusters, matchings
// ====================================================================

func (s *Store) ReplaceWishes(_ context.Context, projectID string, wishes []*models.EncodingWish) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.EncodingWish, len(wishes))
	for i, w := range wishes {
		c := *w
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.ProjectID = projectID
		w.ID = c.ID
		out[i] = &c
	}
	s.wishes[projectID] = out
	return nil
}

func (s *Store) ListWishes(_ context.Context, projectID string, limit int) ([]*models.EncodingWish, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wishes := s.wishes[projectID]
	if limit > 0 && limit < len(wishes) {
		wishes = wishes[:limit]
	}
	out := make([]*models.EncodingWish, len(wishes))
	for i, w := range wishes {
		c := *w
		out[i] = &c
	}
	return out, nil
}

func (s *Store) DeleteWishes(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.wishes, projectID)
	return nil
}

func (s *Store) SaveGroundTruth(_ context.Context, gt *models.GroundTruth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groundTruth[gt.DatasetID]; ok {
		return httperror.NewHTTPErrorf(http.StatusConflict, "ground truth for dataset %s already loaded", gt.DatasetID)
	}
	c := &models.GroundTruth{DatasetID: gt.DatasetID, TrueMatchPairID: make(map[string]struct{}, len(gt.TrueMatchPairID))}
	for id := range gt.TrueMatchPairID {
		c.TrueMatchPairID[id] = struct{}{}
	}
	s.groundTruth[gt.DatasetID] = c
	return nil
}

func (s *Store) GetGroundTruth(_ context.Context, datasetID string) (*models.GroundTruth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gt, ok := s.groundTruth[datasetID]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "ground truth for dataset %s not found", datasetID)
	}
	return gt, nil
}

func (s *Store) AddClusters(_ context.Context, projectID string, clusters []*models.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, c := range clusters {
		cp := *c
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		cp.ProjectID = projectID
		cp.CreatedAt = now
		cp.RecordIDs = append([]models.RecordID(nil), c.RecordIDs...)
		s.clusters[projectID] = append(s.clusters[projectID], &cp)
	}
	return nil
}

func (s *Store) ListClusters(_ context.Context, projectID string) ([]*models.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Cluster, len(s.clusters[projectID]))
	for i, c := range s.clusters[projectID] {
		cp := *c
		out[i] = &cp
	}
	return out, nil
}

func (s *Store) DeleteClusters(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clusters, projectID)
	return nil
}

func (s *Store) SaveMatching(_ context.Context, m *models.Matching) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c := *m
	if existing, ok := s.matchings[m.Method]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Config = append([]byte(nil), m.Config...)
	s.matchings[m.Method] = &c
	return nil
}

func (s *Store) GetMatching(_ context.Context, method string) (*models.Matching, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matchings[method]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("matcher %s not found", method))
	}
	c := *m
	return &c, nil
}

func (s *Store) ListMatchings(_ context.Context) ([]*models.Matching, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Matching, 0, len(s.matchings))
	for _, m := range s.matchings {
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (s *Store) DeleteMatching(_ context.Context, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matchings, method)
	return nil
}
