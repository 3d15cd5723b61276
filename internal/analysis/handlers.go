package analysis

import (
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/alert"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/classifier"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/detection"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/events"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/gate"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/geo"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/logger"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/observability/metrics"
)

const (
	sourceAudio  = "audio"
	sourceVision = "vision"
	sourceStream = "stream"
)

// onOutcome handles one finished gate cycle
func (p *Pipeline) onOutcome(out gate.Outcome) {
	m := p.metrics.Pipeline
	m.Captures.WithLabelValues(string(out.Trigger)).Inc()

	elapsed := out.Finished.Sub(out.Started)
	if out.Recording != nil {
		elapsed -= out.Recording.Duration
	}

	switch {
	case out.Err != nil && isDiscard(out.Err):
		m.ObserveClassification(sourceAudio, metrics.OutcomeDiscarded, 0)
	case out.Err != nil:
		m.ObserveClassification(sourceAudio, metrics.OutcomeError, elapsed)
	case out.Result == nil || !out.Result.Actionable():
		m.ObserveClassification(sourceAudio, metrics.OutcomeNone, elapsed)
	default:
		m.ObserveClassification(sourceAudio, metrics.OutcomeDetection, elapsed)
		p.present(out.Result, out.Position, alert.SourceAudio, detection.SourceAudio)
	}
}

// onVisionResult handles an actionable camera frame
func (p *Pipeline) onVisionResult(r *classifier.Result) {
	p.metrics.Pipeline.ObserveClassification(sourceVision, metrics.OutcomeDetection, 0)
	p.present(r, geo.Position{}, alert.SourceVision, detection.SourceVision)
}

// onStreamResult handles detection results the backend pushed without a
// pending Classify call
func (p *Pipeline) onStreamResult(r *classifier.Result) {
	if !r.Actionable() {
		p.metrics.Pipeline.ObserveClassification(sourceStream, metrics.OutcomeNone, 0)
		return
	}
	p.metrics.Pipeline.ObserveClassification(sourceStream, metrics.OutcomeDetection, 0)
	p.present(r, geo.Position{}, alert.SourceAudio, detection.SourceAudio)
}

// present shows r and stores it as a detection at pos, or at the current fix
// when pos is unset. Without any fix the alert is still shown.
func (p *Pipeline) present(r *classifier.Result, pos geo.Position, asrc alert.Source, dsrc detection.Source) {
	p.presenter.Show(r, asrc)

	if !pos.Valid() {
		current, err := p.location.Current()
		if err != nil {
			p.log.Debug("no location fix, detection not stored", logger.String("label", r.Label))
			return
		}
		pos = current
	}

	ev, added, err := p.detections.AddResult(p.ctx, r, pos, dsrc)
	switch {
	case err != nil:
		p.log.Warn("failed to store detection",
			logger.String("label", r.Label),
			logger.Error(err))
	case !added:
		p.log.Debug("detection not stored",
			logger.String("label", r.Label),
			logger.String("existing_id", ev.ID))
	}
}

func (p *Pipeline) onAlertChange(a alert.Alert, visible bool) {
	if visible {
		p.metrics.Pipeline.AlertsShown.WithLabelValues(string(a.Source), string(a.Direction)).Inc()
	}
	p.bus.TryPublish(events.AlertChanged(a, visible))
}

func (p *Pipeline) onDetectionAdded(ev detection.Event) {
	p.metrics.Pipeline.DetectionsStored.WithLabelValues(string(ev.Type)).Inc()
	p.bus.TryPublish(events.DetectionAdded(ev))
}

func (p *Pipeline) onDetectionRemoved(ev detection.Event) {
	p.bus.TryPublish(events.DetectionRemoved(ev))
}
