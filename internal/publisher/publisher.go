// Package publisher holds the contract every channel publisher implements and
// the failure classification they share.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"uk.co.dudmesh.herald/internal/media"
	"uk.co.dudmesh.herald/internal/model"
)

// Publisher delivers content to one channel. Every failure is reported in the
// returned result, and each call makes at most one publish attempt.
type Publisher interface {
	Channel() model.Channel
	PublishText(ctx context.Context, content string, opts model.Options) model.PublishResult
	PublishWithMedia(ctx context.Context, content string, media []model.MediaReference, opts model.Options) model.PublishResult
	Ping(ctx context.Context) error
}

type Registry map[model.Channel]Publisher

func NewRegistry(publishers ...Publisher) Registry {
	registry := Registry{}
	for _, p := range publishers {
		registry[p.Channel()] = p
	}
	return registry
}

func (r Registry) Lookup(channel model.Channel) (Publisher, bool) {
	p, ok := r[channel]
	return p, ok
}

func (r Registry) Channels() []model.Channel {
	channels := make([]model.Channel, 0, len(r))
	for channel := range r {
		channels = append(channels, channel)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// ClassifyStatus maps a non-2xx HTTP status onto an error kind.
func ClassifyStatus(status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	statusErr := &StatusError{Status: status, Body: truncate(body, 300)}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &model.PublishError{Kind: model.ErrorKindAuth, Err: statusErr}
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return &model.PublishError{Kind: model.ErrorKindTransient, Err: statusErr}
	default:
		return &model.PublishError{Kind: model.ErrorKindValidation, Err: statusErr}
	}
}

// ClassifyTransport wraps a failure to reach the remote end. Errors already
// carrying a kind are returned as they are.
func ClassifyTransport(action string, err error) error {
	var pe *model.PublishError
	if errors.As(err, &pe) {
		return err
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.Transientf("%s: timed out: %w", action, err)
	case errors.Is(err, context.Canceled):
		return model.Transientf("%s: cancelled: %w", action, err)
	case errors.As(err, &netErr):
		return model.Transientf("%s: network error: %w", action, err)
	}
	return model.Transientf("%s: %w", action, err)
}

// Finish stamps the duration on a result.
func Finish(result model.PublishResult, started time.Time) model.PublishResult {
	result.DurationMS = time.Since(started).Milliseconds()
	return result
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// MediaFetcher loads the bytes behind a media reference.
type MediaFetcher interface {
	Fetch(ctx context.Context, ref model.MediaReference) (*media.Asset, error)
}

var _ MediaFetcher = (*media.Fetcher)(nil)
