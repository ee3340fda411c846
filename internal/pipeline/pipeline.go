package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"nightwatch/internal/correlate"
	"nightwatch/internal/detect"
	"nightwatch/internal/ingest"
	"nightwatch/internal/lineage"
	"nightwatch/internal/logger"
	"nightwatch/internal/metrics"
	"nightwatch/internal/rules"
	"nightwatch/internal/storage"
	"nightwatch/internal/transform/normalized"
	"nightwatch/pkg/models"
)

// Source supplies raw event payloads. A nil payload with nil error
// means nothing was available before the source's block timeout.
type Source interface {
	Pop(ctx context.Context) ([]byte, error)
}

// AlertTap receives every persisted alert with its campaign. Tap
// failures are logged, never fatal.
type AlertTap interface {
	Write(alert *models.Alert, campaign *models.Campaign) error
}

// Pipeline consumes raw events and drives them through admission,
// lineage maintenance, persistence, rule evaluation, deduplication and
// campaign correlation. Each event is handled in a single database
// transaction, so an alert is never visible without its event and a
// campaign never references an uncommitted alert.
type Pipeline struct {
	source      Source
	parser      *normalized.Parser
	guard       *ingest.Guard
	tracker     *lineage.Tracker
	store       *storage.Store
	engine      *rules.Engine
	coordinator *detect.Coordinator
	correlator  *correlate.Engine
	metrics     *metrics.Metrics
	tap         AlertTap
	workers     int
}

func New(source Source, guard *ingest.Guard, tracker *lineage.Tracker, store *storage.Store, engine *rules.Engine, coordinator *detect.Coordinator, correlator *correlate.Engine, m *metrics.Metrics, tap AlertTap, workers int) *Pipeline {
	return &Pipeline{
		source:      source,
		parser:      normalized.NewParser(),
		guard:       guard,
		tracker:     tracker,
		store:       store,
		engine:      engine,
		coordinator: coordinator,
		correlator:  correlator,
		metrics:     m,
		tap:         tap,
		workers:     workers,
	}
}

// Run starts the pipeline loop and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.workers <= 0 {
		p.workers = 4
	}
	logger.Infof("Pipeline started: workers=%d rules=%d", p.workers, p.engine.Len())

	msgCh := make(chan []byte, p.workers*4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for payload := range msgCh {
				p.handleRaw(ctx, payload)
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (p *Pipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		payload, err := p.source.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop event: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if payload == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		out <- payload
	}
}

func (p *Pipeline) handleRaw(ctx context.Context, payload []byte) {
	p.metrics.EventsConsumed.Inc()

	event, err := p.parser.Parse(payload)
	if err != nil {
		logger.Warnf("Dropped malformed event: %v", err)
		p.metrics.EventsRejected.WithLabelValues(metrics.ReasonMalformed).Inc()
		return
	}

	if err := p.guard.Admit(event); err != nil {
		logger.Debugf("Rejected event %s: %v", event, err)
		p.metrics.EventsRejected.WithLabelValues(rejectReason(err)).Inc()
		return
	}

	p.maintainLineage(event)

	if err := p.analyze(ctx, event); err != nil {
		if errors.Is(err, storage.ErrDuplicateEvent) {
			p.metrics.EventsRejected.WithLabelValues(metrics.ReasonDuplicate).Inc()
			return
		}
		logger.Errorf("Failed to analyze event %s: %v", event, err)
	}
}

// maintainLineage updates the in-memory process tree and stamps the
// event with its ancestry before persistence. Exit events are enriched
// first, while the chain still exists.
func (p *Pipeline) maintainLineage(event *models.Event) {
	if event.Process == nil {
		return
	}
	switch event.Type {
	case models.EventProcessStart:
		p.tracker.AddProcess(event.Process.PID, event.Process.PPID, event.Process.Name,
			event.Process.CommandLine, event.Process.UID, event.Process.Username)
		event.Process.Lineage = p.tracker.Lineage(event.Process.PID)
	case models.EventProcessExit:
		event.Process.Lineage = p.tracker.Lineage(event.Process.PID)
		p.tracker.RemoveProcess(event.Process.PID)
	}
}

type correlatedAlert struct {
	alert    *models.Alert
	campaign *models.Campaign
	extended bool
}

// analyze persists the event, evaluates every rule against it and
// records any resulting alerts and campaign updates, all in one
// transaction.
func (p *Pipeline) analyze(ctx context.Context, event *models.Event) error {
	var matched []string
	var created []correlatedAlert
	var suppressed int

	err := p.store.WithTx(ctx, func(tx *storage.Tx) error {
		matched = nil
		created = nil
		suppressed = 0

		if err := tx.InsertEvent(ctx, event); err != nil {
			return err
		}

		for _, result := range p.engine.Evaluate(ctx, event, tx) {
			matched = append(matched, result.RuleName)

			alert, err := p.coordinator.Record(ctx, tx, event.EndpointID, &result)
			if err != nil {
				return err
			}
			if alert == nil {
				suppressed++
				continue
			}

			campaign, extended, err := p.correlator.Correlate(ctx, tx, alert)
			if err != nil {
				return err
			}
			created = append(created, correlatedAlert{alert: alert, campaign: campaign, extended: extended})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, rule := range matched {
		p.metrics.RuleMatches.WithLabelValues(rule).Inc()
	}
	for i := 0; i < suppressed; i++ {
		p.metrics.DedupHits.Inc()
	}
	for _, ca := range created {
		p.metrics.AlertsCreated.Inc()
		if ca.extended {
			p.metrics.CampaignsExtended.Inc()
		} else {
			p.metrics.CampaignsCreated.Inc()
		}
		if p.tap != nil {
			if err := p.tap.Write(ca.alert, ca.campaign); err != nil {
				logger.Errorf("Failed to write alert tap record: %v", err)
			}
		}
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrUnknownEndpoint):
		return metrics.ReasonUnknownEndpoint
	case errors.Is(err, ingest.ErrReplayedEvent):
		return metrics.ReasonReplay
	case errors.Is(err, ingest.ErrRateLimited):
		return metrics.ReasonRateLimit
	default:
		return metrics.ReasonMalformed
	}
}
