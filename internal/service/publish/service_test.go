package publish

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/publisher"
	"uk.co.dudmesh.herald/internal/publisher/email"
)

type stubPublisher struct {
	channel   model.Channel
	publish   func(ctx context.Context, opts model.Options) model.PublishResult
	withMedia int32
	text      int32
	pingErr   error
}

func (s *stubPublisher) Channel() model.Channel { return s.channel }

func (s *stubPublisher) PublishText(ctx context.Context, content string, opts model.Options) model.PublishResult {
	atomic.AddInt32(&s.text, 1)
	return s.publish(ctx, opts)
}

func (s *stubPublisher) PublishWithMedia(ctx context.Context, content string, media []model.MediaReference, opts model.Options) model.PublishResult {
	atomic.AddInt32(&s.withMedia, 1)
	return s.publish(ctx, opts)
}

func (s *stubPublisher) Ping(ctx context.Context) error { return s.pingErr }

func succeeding(channel model.Channel) *stubPublisher {
	return &stubPublisher{channel: channel, publish: func(ctx context.Context, opts model.Options) model.PublishResult {
		return model.Succeeded(channel, "id-"+string(channel), "https://example.com/"+string(channel))
	}}
}

func failing(channel model.Channel, err error) *stubPublisher {
	return &stubPublisher{channel: channel, publish: func(ctx context.Context, opts model.Options) model.PublishResult {
		return model.Failed(channel, err)
	}}
}

type memoryStore struct {
	mu      sync.Mutex
	reports []*model.PublishReport
	err     error
}

func (m *memoryStore) SaveReport(ctx context.Context, report *model.PublishReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, report)
	return nil
}

func (m *memoryStore) LatestReport(ctx context.Context, draftID string) (*model.PublishReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.reports) - 1; i >= 0; i-- {
		if m.reports[i].DraftID == draftID {
			return m.reports[i], nil
		}
	}
	return nil, model.ErrorReportNotFound
}

func (m *memoryStore) DraftStatus(ctx context.Context, draftID string) (model.DraftStatus, error) {
	report, err := m.LatestReport(ctx, draftID)
	if err != nil {
		return "", err
	}
	return report.Status, nil
}

func testConfig() *boot.Config {
	config := &boot.Config{}
	config.Dispatch.ChannelTimeout = time.Second
	return config
}

func TestDispatch(t *testing.T) {
	assert := assert.New(t)
	store := &memoryStore{}
	registry := publisher.NewRegistry(
		succeeding(model.ChannelLinkedIn),
		failing(model.ChannelWordPress, model.Authf("bad password")),
		succeeding(model.ChannelEmail),
	)
	service := New(testConfig(), registry, store, nil)

	draft := &model.Draft{
		ID:       "draft-1",
		Content:  "Hello",
		Channels: []model.Channel{model.ChannelEmail, model.ChannelWordPress, model.ChannelLinkedIn},
	}
	report := service.Dispatch(context.Background(), draft)

	require.Len(t, report.Results, 3)
	assert.Equal(model.ChannelEmail, report.Results[0].Channel)
	assert.Equal(model.ChannelWordPress, report.Results[1].Channel)
	assert.Equal(model.ChannelLinkedIn, report.Results[2].Channel)
	assert.True(report.Results[0].Success)
	assert.False(report.Results[1].Success)
	assert.Equal(model.ErrorKindAuth, report.Results[1].ErrorKind)
	assert.True(report.Results[2].Success)
	assert.NotEmpty(report.Results[0].ID)
	assert.Equal(model.DraftStatusPartiallyPublished, report.Status)
	assert.Equal(2, report.Successful)
	assert.Equal(1, report.Failed)

	require.Len(t, store.reports, 1)
	saved, err := service.Report(context.Background(), "draft-1")
	assert.Nil(err)
	assert.Equal(report.ID, saved.ID)

	status, err := service.DraftStatus(context.Background(), "draft-1")
	assert.Nil(err)
	assert.Equal(model.DraftStatusPartiallyPublished, status)
}

func TestDraftStatusWithoutStore(t *testing.T) {
	service := New(testConfig(), publisher.NewRegistry(), nil, nil)
	_, err := service.DraftStatus(context.Background(), "draft-1")
	assert.ErrorIs(t, err, model.ErrorReportNotFound)
}

func TestDispatchUnavailableChannel(t *testing.T) {
	assert := assert.New(t)
	registry := publisher.NewRegistry(succeeding(model.ChannelLinkedIn))
	service := New(testConfig(), registry, nil, nil)

	report := service.Dispatch(context.Background(), &model.Draft{
		ID:       "draft-2",
		Content:  "Hello",
		Channels: []model.Channel{model.ChannelLinkedIn, model.ChannelWordPress, "myspace"},
	})

	require.Len(t, report.Results, 3)
	assert.True(report.Results[0].Success)
	assert.Equal(model.ErrorKindUnavailable, report.Results[1].ErrorKind)
	assert.Equal(model.Channel("myspace"), report.Results[2].Channel)
	assert.Equal(model.ErrorKindUnavailable, report.Results[2].ErrorKind)
	assert.False(report.Results[2].Retryable)
}

func TestDispatchUsesMediaPath(t *testing.T) {
	assert := assert.New(t)
	linkedin := succeeding(model.ChannelLinkedIn)
	service := New(testConfig(), publisher.NewRegistry(linkedin), nil, nil)

	service.Dispatch(context.Background(), &model.Draft{ID: "d", Content: "x", Channels: []model.Channel{model.ChannelLinkedIn}})
	service.Dispatch(context.Background(), &model.Draft{
		ID:       "d",
		Content:  "x",
		Channels: []model.Channel{model.ChannelLinkedIn},
		Media:    []model.MediaReference{{URL: "https://example.com/a.png", Type: model.MediaTypeImage}},
	})

	assert.Equal(int32(1), linkedin.text)
	assert.Equal(int32(1), linkedin.withMedia)
}

func TestDispatchPassesDraftDetails(t *testing.T) {
	var got model.Options
	wordpress := &stubPublisher{channel: model.ChannelWordPress, publish: func(ctx context.Context, opts model.Options) model.PublishResult {
		got = opts
		return model.Succeeded(model.ChannelWordPress, "1", "")
	}}
	service := New(testConfig(), publisher.NewRegistry(wordpress), nil, nil)

	service.Dispatch(context.Background(), &model.Draft{
		ID:       "draft-9",
		Title:    "Title",
		Content:  "x",
		Channels: []model.Channel{model.ChannelWordPress},
		Options:  model.Options{WordPress: model.WordPressOptions{Status: "draft"}},
	})

	assert.Equal(t, "draft-9", got.DraftID)
	assert.Equal(t, "Title", got.Title)
	assert.Equal(t, "draft", got.WordPress.Status)
}

func TestDispatchRecoversPanics(t *testing.T) {
	assert := assert.New(t)
	broken := &stubPublisher{channel: model.ChannelEmail, publish: func(ctx context.Context, opts model.Options) model.PublishResult {
		panic("nil map")
	}}
	service := New(testConfig(), publisher.NewRegistry(broken, succeeding(model.ChannelLinkedIn)), nil, nil)

	report := service.Dispatch(context.Background(), &model.Draft{
		ID:       "d",
		Content:  "x",
		Channels: []model.Channel{model.ChannelEmail, model.ChannelLinkedIn},
	})

	assert.Equal(model.ErrorKindTransient, report.Results[0].ErrorKind)
	assert.Contains(report.Results[0].Error, "nil map")
	assert.True(report.Results[1].Success)
}

func TestDispatchChannelTimeout(t *testing.T) {
	assert := assert.New(t)
	slow := &stubPublisher{channel: model.ChannelWordPress, publish: func(ctx context.Context, opts model.Options) model.PublishResult {
		<-ctx.Done()
		return model.Failed(model.ChannelWordPress, model.Transientf("timed out: %w", ctx.Err()))
	}}
	config := testConfig()
	config.Dispatch.ChannelTimeout = 50 * time.Millisecond
	service := New(config, publisher.NewRegistry(slow, succeeding(model.ChannelLinkedIn)), nil, nil)

	report := service.Dispatch(context.Background(), &model.Draft{
		ID:       "d",
		Content:  "x",
		Channels: []model.Channel{model.ChannelWordPress, model.ChannelLinkedIn},
	})

	assert.Equal(model.ErrorKindTransient, report.Results[0].ErrorKind)
	assert.True(report.Results[0].Retryable)
	assert.True(report.Results[1].Success)
}

func TestDispatchCallerAbort(t *testing.T) {
	assert := assert.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var sawCancel atomic.Bool

	first := &stubPublisher{channel: model.ChannelLinkedIn, publish: func(pctx context.Context, opts model.Options) model.PublishResult {
		close(started)
		cancel()
		time.Sleep(20 * time.Millisecond)
		sawCancel.Store(pctx.Err() != nil)
		return model.Succeeded(model.ChannelLinkedIn, "1", "")
	}}
	second := succeeding(model.ChannelWordPress)

	config := testConfig()
	config.Dispatch.MaxConcurrency = 1
	service := New(config, publisher.NewRegistry(first, second), nil, nil)

	report := service.Dispatch(ctx, &model.Draft{
		ID:       "d",
		Content:  "x",
		Channels: []model.Channel{model.ChannelLinkedIn, model.ChannelWordPress},
	})
	<-started

	require.Len(t, report.Results, 2)
	assert.True(report.Results[0].Success)
	assert.False(sawCancel.Load())
	assert.Equal(model.ErrorKindTransient, report.Results[1].ErrorKind)
	assert.Contains(report.Results[1].Error, "cancelled before attempt")
	assert.Equal(int32(0), second.text)
}

func TestDispatchStoreFailureKeepsReport(t *testing.T) {
	store := &memoryStore{err: errors.New("disk full")}
	service := New(testConfig(), publisher.NewRegistry(succeeding(model.ChannelLinkedIn)), store, nil)

	report := service.Dispatch(context.Background(), &model.Draft{ID: "d", Content: "x", Channels: []model.Channel{model.ChannelLinkedIn}})
	assert.Equal(t, model.DraftStatusPublished, report.Status)
}

func TestDispatchMetrics(t *testing.T) {
	before := testutil.ToFloat64(channelPublishes.WithLabelValues("linkedin", outcomeSuccess))
	service := New(testConfig(), publisher.NewRegistry(succeeding(model.ChannelLinkedIn)), nil, nil)
	service.Dispatch(context.Background(), &model.Draft{ID: "d", Content: "x", Channels: []model.Channel{model.ChannelLinkedIn}})
	assert.Equal(t, before+1, testutil.ToFloat64(channelPublishes.WithLabelValues("linkedin", outcomeSuccess)))
}

func TestHealth(t *testing.T) {
	assert := assert.New(t)
	down := succeeding(model.ChannelWordPress)
	down.pingErr = model.Authf("bad password")
	service := New(testConfig(), publisher.NewRegistry(succeeding(model.ChannelLinkedIn), down), nil, nil)

	statuses := service.Health(context.Background(), false)
	require.Len(t, statuses, 3)
	assert.Equal(StatusAvailable, statuses[0].Status)
	assert.Equal(StatusAvailable, statuses[1].Status)
	assert.Equal(StatusUnavailable, statuses[2].Status)

	statuses = service.Health(context.Background(), true)
	assert.Equal(StatusAvailable, statuses[0].Status)
	assert.Equal(StatusUnavailable, statuses[1].Status)
	assert.Equal("bad password", statuses[1].Error)
}

func TestSendBulkUnavailable(t *testing.T) {
	service := New(testConfig(), publisher.NewRegistry(), nil, nil)
	_, err := service.SendBulk(context.Background(), email.BulkRequest{})
	assert.Equal(t, model.ErrorKindUnavailable, model.KindOf(err))
}

func TestFingerprint(t *testing.T) {
	a := &model.Draft{ID: "d", Content: "x", Channels: []model.Channel{model.ChannelLinkedIn}}
	b := &model.Draft{ID: "d", Content: "y", Channels: []model.Channel{model.ChannelLinkedIn}}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	assert.Equal(t, Fingerprint(a), Fingerprint(a))
}
