package model

import (
	"time"
)

type PublishResult struct {
	ID         string           `json:"id"`
	Channel    Channel          `json:"channel"`
	Success    bool             `json:"success"`
	ExternalID string           `json:"external_id,omitempty"`
	URL        string           `json:"url,omitempty"`
	ErrorKind  ErrorKind        `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
	Retryable  bool             `json:"retryable,omitempty"`
	Delivery   *DeliverySummary `json:"delivery,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	DurationMS int64            `json:"duration_ms"`
}

type DeliverySummary struct {
	Total    int                `json:"total"`
	Sent     int                `json:"sent"`
	Failed   int                `json:"failed"`
	Failures []RecipientFailure `json:"failures"`
}

type RecipientFailure struct {
	Email     string    `json:"email"`
	Error     string    `json:"error"`
	ErrorKind ErrorKind `json:"error_kind"`
}

// Fail records a failed delivery.
func (s *DeliverySummary) Fail(email string, err error) {
	s.Failed++
	s.Failures = append(s.Failures, RecipientFailure{
		Email:     email,
		Error:     err.Error(),
		ErrorKind: KindOf(err),
	})
}

func Succeeded(channel Channel, externalID, url string) PublishResult {
	return PublishResult{
		Channel:    channel,
		Success:    true,
		ExternalID: externalID,
		URL:        url,
		Timestamp:  time.Now().UTC(),
	}
}

func Failed(channel Channel, err error) PublishResult {
	kind := KindOf(err)
	return PublishResult{
		Channel:   channel,
		Success:   false,
		ErrorKind: kind,
		Error:     err.Error(),
		Retryable: kind == ErrorKindTransient,
		Timestamp: time.Now().UTC(),
	}
}

type PublishReport struct {
	ID          string          `json:"id" db:"ID"`
	DraftID     string          `json:"draft_id" db:"DraftID"`
	CampaignID  string          `json:"campaign_id,omitempty" db:"CampaignID"`
	Status      DraftStatus     `json:"status" db:"Status"`
	Fingerprint string          `json:"fingerprint" db:"Fingerprint"`
	Successful  int             `json:"successful" db:"Successful"`
	Failed      int             `json:"failed" db:"Failed"`
	CreatedAt   time.Time       `json:"created_at" db:"CreatedAt"`
	Results     []PublishResult `json:"results" db:"-"`
}

func NewReport(id string, draft *Draft, fingerprint string, results []PublishResult) *PublishReport {
	report := &PublishReport{
		ID:          id,
		DraftID:     draft.ID,
		CampaignID:  draft.CampaignID,
		Fingerprint: fingerprint,
		CreatedAt:   time.Now().UTC(),
		Results:     results,
	}
	for _, result := range results {
		if result.Success {
			report.Successful++
		} else {
			report.Failed++
		}
	}

	switch {
	case report.Failed == 0:
		report.Status = DraftStatusPublished
	case report.Successful > 0:
		report.Status = DraftStatusPartiallyPublished
	default:
		report.Status = DraftStatusFailed
	}
	return report
}
