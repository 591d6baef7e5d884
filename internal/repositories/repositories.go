// Package repositories assembles the postgres implementations of the
// linkage stores.
package repositories

import (
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/repositories/cluster"
	"github.com/Ramsey-B/clover/internal/repositories/groundtruth"
	"github.com/Ramsey-B/clover/internal/repositories/matching"
	"github.com/Ramsey-B/clover/internal/repositories/project"
	"github.com/Ramsey-B/clover/internal/repositories/record"
	"github.com/Ramsey-B/clover/internal/repositories/recordpair"
	"github.com/Ramsey-B/clover/internal/repositories/wish"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/store"
)

func NewStores(db database.DB, logger ectologger.Logger) store.Stores {
	return store.Stores{
		Pairs:       recordpair.NewRepository(db, logger),
		Projects:    project.NewRepository(db, logger),
		Records:     record.NewRepository(db, logger),
		Wishes:      wish.NewRepository(db, logger),
		GroundTruth: groundtruth.NewRepository(db, logger),
		Clusters:    cluster.NewRepository(db, logger),
		Matchings:   matching.NewRepository(db, logger),
	}
}
