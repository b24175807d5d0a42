package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"golang.org/x/sync/errgroup"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/publisher"
	"uk.co.dudmesh.herald/internal/publisher/email"
	"uk.co.dudmesh.herald/pkg/fingerprint"
)

const (
	StatusAvailable   = "available"
	StatusUnavailable = "unavailable"
	pingTimeout       = 10 * time.Second
)

type ReportStore interface {
	SaveReport(ctx context.Context, report *model.PublishReport) error
	LatestReport(ctx context.Context, draftID string) (*model.PublishReport, error)
	DraftStatus(ctx context.Context, draftID string) (model.DraftStatus, error)
}

type BulkSender interface {
	SendBulk(ctx context.Context, req email.BulkRequest) (*model.DeliverySummary, error)
}

type ChannelStatus struct {
	Channel model.Channel `json:"channel"`
	Status  string        `json:"status"`
	Error   string        `json:"error,omitempty"`
}

type service struct {
	registry       publisher.Registry
	store          ReportStore
	bulk           BulkSender
	channelTimeout time.Duration
	maxConcurrency int
}

func New(config *boot.Config, registry publisher.Registry, store ReportStore, bulk BulkSender) *service {
	return &service{
		registry:       registry,
		store:          store,
		bulk:           bulk,
		channelTimeout: config.Dispatch.ChannelTimeout,
		maxConcurrency: config.Dispatch.MaxConcurrency,
	}
}

// Dispatch publishes the draft to every requested channel and returns one
// result per channel in the requested order. A failing channel never stops
// the others, and nothing already published is rolled back.
func (s *service) Dispatch(ctx context.Context, draft *model.Draft) *model.PublishReport {
	results := make([]model.PublishResult, len(draft.Channels))

	g := &errgroup.Group{}
	if s.maxConcurrency > 0 {
		g.SetLimit(s.maxConcurrency)
	}
	for i, channel := range draft.Channels {
		i, channel := i, channel
		g.Go(func() error {
			results[i] = s.publishOne(ctx, draft, channel)
			return nil
		})
	}
	g.Wait()

	report := model.NewReport(cuid2.Generate(), draft, Fingerprint(draft), results)
	dispatches.WithLabelValues(string(report.Status)).Inc()
	log.Infoj(log.JSON{"event": "dispatched", "draft_id": draft.ID, "report_id": report.ID, "status": report.Status, "successful": report.Successful, "failed": report.Failed})

	if s.store != nil {
		if err := s.store.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			log.Errorj(log.JSON{"event": "report_save_failed", "draft_id": draft.ID, "report_id": report.ID, "error": err.Error()})
		}
	}
	return report
}

func (s *service) publishOne(ctx context.Context, draft *model.Draft, channel model.Channel) (result model.PublishResult) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Errorj(log.JSON{"event": "publisher_panic", "draft_id": draft.ID, "channel": channel, "panic": fmt.Sprint(r)})
			result = model.Failed(channel, model.Transientf("publisher panicked: %v", r))
		}
		result.ID = fingerprint.NewID()
		result.Channel = channel
		if result.DurationMS == 0 {
			result.DurationMS = time.Since(started).Milliseconds()
		}
		observe(result)
	}()

	p, ok := s.registry.Lookup(channel)
	if !ok {
		return model.Failed(channel, model.Unavailablef("channel %q is not configured", channel))
	}
	if err := ctx.Err(); err != nil {
		return model.Failed(channel, model.Transientf("dispatch cancelled before attempt: %w", err))
	}

	channelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.channelTimeout)
	defer cancel()

	opts := draft.Options
	opts.DraftID = draft.ID
	opts.Title = draft.Title

	if draft.HasMedia() {
		return p.PublishWithMedia(channelCtx, draft.Content, draft.Media, opts)
	}
	return p.PublishText(channelCtx, draft.Content, opts)
}

func (s *service) Report(ctx context.Context, draftID string) (*model.PublishReport, error) {
	if s.store == nil {
		return nil, model.ErrorReportNotFound
	}
	return s.store.LatestReport(ctx, draftID)
}

// DraftStatus is the status the draft was left in by its latest dispatch.
func (s *service) DraftStatus(ctx context.Context, draftID string) (model.DraftStatus, error) {
	if s.store == nil {
		return "", model.ErrorReportNotFound
	}
	return s.store.DraftStatus(ctx, draftID)
}

func (s *service) SendBulk(ctx context.Context, req email.BulkRequest) (*model.DeliverySummary, error) {
	if s.bulk == nil {
		return nil, model.Unavailablef("channel %q is not configured", model.ChannelEmail)
	}
	return s.bulk.SendBulk(ctx, req)
}

// Health lists every known channel. With probe set each configured
// publisher is pinged.
func (s *service) Health(ctx context.Context, probe bool) []ChannelStatus {
	statuses := make([]ChannelStatus, len(model.KnownChannels))

	g := &errgroup.Group{}
	for i, channel := range model.KnownChannels {
		i, channel := i, channel
		statuses[i] = ChannelStatus{Channel: channel, Status: StatusAvailable}

		p, ok := s.registry.Lookup(channel)
		if !ok {
			statuses[i].Status = StatusUnavailable
			statuses[i].Error = "not configured"
			continue
		}
		if !probe {
			continue
		}
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := p.Ping(pingCtx); err != nil {
				statuses[i].Status = StatusUnavailable
				statuses[i].Error = err.Error()
			}
			return nil
		})
	}
	g.Wait()
	return statuses
}

func Fingerprint(draft *model.Draft) string {
	parts := []string{draft.ID, draft.Title, draft.Content}
	for _, channel := range draft.Channels {
		parts = append(parts, string(channel))
	}
	for _, m := range draft.Media {
		parts = append(parts, string(m.Type)+":"+m.URL)
	}
	return fingerprint.Of(parts...)
}
