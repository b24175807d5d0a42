package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	assert := assert.New(t)

	t.Run("Wrapped kind survives", func(t *testing.T) {
		err := fmt.Errorf("uploading: %w", Authf("token expired"))
		assert.Equal(ErrorKindAuth, KindOf(err))
		assert.False(IsRetryable(err))
		assert.Equal("uploading: token expired", err.Error())
	})

	t.Run("Unclassified is transient", func(t *testing.T) {
		err := errors.New("boom")
		assert.Equal(ErrorKindTransient, KindOf(err))
		assert.True(IsRetryable(err))
	})

	t.Run("Unwrap", func(t *testing.T) {
		cause := errors.New("cause")
		err := Errorf(ErrorKindValidation, "bad input: %w", cause)
		assert.True(errors.Is(err, cause))
	})
}

func TestFailedResult(t *testing.T) {
	assert := assert.New(t)

	result := Failed(ChannelWordPress, Unavailablef("wordpress not configured"))
	assert.False(result.Success)
	assert.Equal(ErrorKindUnavailable, result.ErrorKind)
	assert.False(result.Retryable)

	result = Failed(ChannelLinkedIn, Transientf("timeout"))
	assert.True(result.Retryable)
}

func TestNewReport(t *testing.T) {
	assert := assert.New(t)
	draft := &Draft{ID: "draft-1", CampaignID: "spring"}

	ok := Succeeded(ChannelLinkedIn, "urn:li:share:1", "https://www.linkedin.com/feed/update/urn:li:share:1/")
	bad := Failed(ChannelEmail, Validationf("no recipients"))

	report := NewReport("r1", draft, "fp", []PublishResult{ok, bad})
	assert.Equal(DraftStatusPartiallyPublished, report.Status)
	assert.Equal(1, report.Successful)
	assert.Equal(1, report.Failed)
	assert.Equal("spring", report.CampaignID)

	assert.Equal(DraftStatusPublished, NewReport("r2", draft, "fp", []PublishResult{ok}).Status)
	assert.Equal(DraftStatusFailed, NewReport("r3", draft, "fp", []PublishResult{bad}).Status)
}

func TestMediaTypeFromURL(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(MediaTypeVideo, MediaTypeFromURL("https://cdn.example.com/clip.MP4?sig=1"))
	assert.Equal(MediaTypeImage, MediaTypeFromURL("https://cdn.example.com/photo.jpg"))
	assert.Equal(MediaTypeImage, MediaTypeFromURL("/tmp/unknown"))
}
