// Package events publishes project lifecycle events.
package events

import (
	"context"
	"strconv"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Event types
const (
	PhaseChanged         = "project.phase_changed"
	ProjectReset         = "project.reset"
	ProjectDeleted       = "project.deleted"
	UncertainLinksChosen = "protocol.uncertain_links_selected"
	PairsReported        = "protocol.pairs_reported"
	PairsFetched         = "protocol.pairs_fetched"
	MatcherUpdated       = "matcher.updated"
)

// EventSink is what the core services emit to. Emission failures are logged
// by the sink and never fail the calling operation.
type EventSink interface {
	EmitPhaseChanged(ctx context.Context, project *models.LinkageProject, from models.ProjectPhase)
	EmitProjectReset(ctx context.Context, project *models.LinkageProject, from models.ProjectPhase)
	EmitProjectDeleted(ctx context.Context, project *models.LinkageProject)
	EmitUncertainLinksSelected(ctx context.Context, project *models.LinkageProject, count int)
	EmitPairsReported(ctx context.Context, project *models.LinkageProject, parentID string, count int)
	EmitPairsFetched(ctx context.Context, project *models.LinkageProject, count int)
	EmitMatcherUpdated(ctx context.Context, method string, strategy string, labelled int)
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	PublishProjectEvent(ctx context.Context, event *kafka.ProjectEvent) error
}

// Emitter sends events through a kafka publisher.
type Emitter struct {
	producer Publisher
	logger   ectologger.Logger
}

var _ EventSink = (*Emitter)(nil)

// NewEmitter creates a new event emitter
func NewEmitter(producer Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

func projectEvent(eventType string, project *models.LinkageProject) *kafka.ProjectEvent {
	return &kafka.ProjectEvent{
		EventType: eventType,
		ProjectID: project.ID,
		DatasetID: project.DatasetID,
		State:     string(project.State),
	}
}

func (e *Emitter) publish(ctx context.Context, event *kafka.ProjectEvent) {
	if err := e.producer.PublishProjectEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("event_type", event.EventType).Error("Failed to emit event")
	}
}

// EmitPhaseChanged emits project.phase_changed
func (e *Emitter) EmitPhaseChanged(ctx context.Context, project *models.LinkageProject, from models.ProjectPhase) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitPhaseChanged")
	defer span.End()

	event := projectEvent(PhaseChanged, project)
	event.Details = map[string]string{"from": string(from)}
	e.publish(ctx, event)
}

// EmitProjectReset emits project.reset
func (e *Emitter) EmitProjectReset(ctx context.Context, project *models.LinkageProject, from models.ProjectPhase) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitProjectReset")
	defer span.End()

	event := projectEvent(ProjectReset, project)
	event.Details = map[string]string{"from": string(from)}
	e.publish(ctx, event)
}

// EmitProjectDeleted emits project.deleted
func (e *Emitter) EmitProjectDeleted(ctx context.Context, project *models.LinkageProject) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitProjectDeleted")
	defer span.End()

	e.publish(ctx, projectEvent(ProjectDeleted, project))
}

// EmitUncertainLinksSelected emits protocol.uncertain_links_selected
func (e *Emitter) EmitUncertainLinksSelected(ctx context.Context, project *models.LinkageProject, count int) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitUncertainLinksSelected")
	defer span.End()

	event := projectEvent(UncertainLinksChosen, project)
	event.Count = count
	e.publish(ctx, event)
}

// EmitPairsReported emits protocol.pairs_reported
func (e *Emitter) EmitPairsReported(ctx context.Context, project *models.LinkageProject, parentID string, count int) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitPairsReported")
	defer span.End()

	event := projectEvent(PairsReported, project)
	event.Count = count
	event.Details = map[string]string{"parent_project_id": parentID}
	e.publish(ctx, event)
}

// EmitPairsFetched emits protocol.pairs_fetched
func (e *Emitter) EmitPairsFetched(ctx context.Context, project *models.LinkageProject, count int) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitPairsFetched")
	defer span.End()

	event := projectEvent(PairsFetched, project)
	event.Count = count
	e.publish(ctx, event)
}

// EmitMatcherUpdated emits matcher.updated. The method name is used as key.
func (e *Emitter) EmitMatcherUpdated(ctx context.Context, method string, strategy string, labelled int) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMatcherUpdated")
	defer span.End()

	e.publish(ctx, &kafka.ProjectEvent{
		EventType: MatcherUpdated,
		ProjectID: method,
		Count:     labelled,
		Details: map[string]string{
			"strategy": strategy,
			"labelled": strconv.Itoa(labelled),
		},
	})
}

// Noop drops every event. Used when kafka is disabled.
type Noop struct{}

var _ EventSink = Noop{}

func (Noop) EmitPhaseChanged(context.Context, *models.LinkageProject, models.ProjectPhase) {}
func (Noop) EmitProjectReset(context.Context, *models.LinkageProject, models.ProjectPhase) {}
func (Noop) EmitProjectDeleted(context.Context, *models.LinkageProject)                    {}
func (Noop) EmitUncertainLinksSelected(context.Context, *models.LinkageProject, int)       {}
func (Noop) EmitPairsReported(context.Context, *models.LinkageProject, string, int)        {}
func (Noop) EmitPairsFetched(context.Context, *models.LinkageProject, int)                 {}
func (Noop) EmitMatcherUpdated(context.Context, string, string, int)                       {}
