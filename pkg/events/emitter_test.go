package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakePublisher struct {
	events []*kafka.ProjectEvent
	err    error
}

func (f *fakePublisher) PublishProjectEvent(_ context.Context, event *kafka.ProjectEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func newTestEmitter(pub Publisher) *Emitter {
	return NewEmitter(pub, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestEmitter(t *testing.T) {
	ctx := context.Background()
	project := &models.LinkageProject{ID: "p1", DatasetID: "d1", State: models.PhaseClassification}

	tests := []struct {
		name      string
		emit      func(e *Emitter)
		eventType string
		count     int
		details   map[string]string
	}{
		{
			name:      "phase changed",
			emit:      func(e *Emitter) { e.EmitPhaseChanged(ctx, project, models.PhaseCollecting) },
			eventType: PhaseChanged,
			details:   map[string]string{"from": "COLLECTING"},
		},
		{
			name:      "reset",
			emit:      func(e *Emitter) { e.EmitProjectReset(ctx, project, models.PhaseClustering) },
			eventType: ProjectReset,
			details:   map[string]string{"from": "CLUSTERING"},
		},
		{
			name:      "deleted",
			emit:      func(e *Emitter) { e.EmitProjectDeleted(ctx, project) },
			eventType: ProjectDeleted,
		},
		{
			name:      "uncertain links",
			emit:      func(e *Emitter) { e.EmitUncertainLinksSelected(ctx, project, 5) },
			eventType: UncertainLinksChosen,
			count:     5,
		},
		{
			name:      "reported",
			emit:      func(e *Emitter) { e.EmitPairsReported(ctx, project, "parent", 3) },
			eventType: PairsReported,
			count:     3,
			details:   map[string]string{"parent_project_id": "parent"},
		},
		{
			name:      "fetched",
			emit:      func(e *Emitter) { e.EmitPairsFetched(ctx, project, 2) },
			eventType: PairsFetched,
			count:     2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			tt.emit(newTestEmitter(pub))

			require.Len(t, pub.events, 1)
			event := pub.events[0]
			assert.Equal(t, tt.eventType, event.EventType)
			assert.Equal(t, "p1", event.ProjectID)
			assert.Equal(t, "d1", event.DatasetID)
			assert.Equal(t, "CLASSIFICATION", event.State)
			assert.Equal(t, tt.count, event.Count)
			assert.Equal(t, tt.details, event.Details)
		})
	}
}

func TestEmitterMatcherUpdated(t *testing.T) {
	pub := &fakePublisher{}
	newTestEmitter(pub).EmitMatcherUpdated(context.Background(), "m1", "IMPROVED", 12)

	require.Len(t, pub.events, 1)
	assert.Equal(t, MatcherUpdated, pub.events[0].EventType)
	assert.Equal(t, "m1", pub.events[0].ProjectID)
	assert.Equal(t, "IMPROVED", pub.events[0].Details["strategy"])
	assert.Equal(t, "12", pub.events[0].Details["labelled"])
}

func TestEmitterSwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	assert.NotPanics(t, func() {
		newTestEmitter(pub).EmitProjectDeleted(context.Background(), &models.LinkageProject{ID: "p1"})
	})
	assert.Len(t, pub.events, 1)
}
