package email

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"gopkg.in/gomail.v2"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/pkg/htmltext"
)

type BulkRequest struct {
	DraftID    string                 `json:"draft_id"`
	Subject    string                 `json:"subject" validate:"required"`
	Content    string                 `json:"content" validate:"required"`
	Recipients []model.Recipient      `json:"recipients" validate:"required,min=1,dive"`
	Media      []model.MediaReference `json:"media" validate:"dive"`
	Options    model.EmailOptions     `json:"options"`
}

type outgoing struct {
	recipient model.Recipient
	message   *gomail.Message
}

// SendBulk sends one personalised message per recipient. Request level
// problems such as malformed HTML are returned as an error. Per recipient
// problems are recorded in the summary and never stop the send.
func (p *Publisher) SendBulk(ctx context.Context, req BulkRequest) (*model.DeliverySummary, error) {
	c, err := p.compose(ctx, req)
	if err != nil {
		return nil, err
	}

	summary := &model.DeliverySummary{Total: len(req.Recipients), Failures: []model.RecipientFailure{}}
	for start := 0; start < len(req.Recipients); start += p.batchSize {
		end := start + p.batchSize
		if end > len(req.Recipients) {
			end = len(req.Recipients)
		}
		batch := req.Recipients[start:end]

		if err := p.limiter.Wait(ctx); err != nil {
			cancelled := model.Transientf("send cancelled before batch: %w", err)
			for _, recipient := range req.Recipients[start:] {
				summary.Fail(recipient.Email, cancelled)
			}
			break
		}

		p.sendBatch(c, batch, summary)
	}

	log.Infoj(log.JSON{"event": "bulk_sent", "draft_id": req.DraftID, "total": summary.Total, "sent": summary.Sent, "failed": summary.Failed})
	return summary, nil
}

func (p *Publisher) sendBatch(c *composition, batch []model.Recipient, summary *model.DeliverySummary) {
	prepared := make([]outgoing, 0, len(batch))
	for _, recipient := range batch {
		if err := p.checkAddress(recipient.Email); err != nil {
			summary.Fail(recipient.Email, err)
			continue
		}
		subject, htmlBody, textBody, err := c.personalise(p.layout, recipient)
		if err != nil {
			summary.Fail(recipient.Email, err)
			continue
		}
		prepared = append(prepared, outgoing{
			recipient: recipient,
			message:   c.message(p.from, p.fromName, recipient.Email, subject, htmlBody, textBody),
		})
	}
	if len(prepared) == 0 {
		return
	}

	sender, err := p.dialer.Dial()
	if err != nil {
		err = classify("connecting to smtp server", err)
		for _, out := range prepared {
			summary.Fail(out.recipient.Email, err)
		}
		return
	}
	defer sender.Close()

	for _, out := range prepared {
		if err := sender.Send(p.from, c.recipients(out.recipient.Email), out.message); err != nil {
			summary.Fail(out.recipient.Email, classify("sending to "+out.recipient.Email, err))
			continue
		}
		summary.Sent++
	}
}

// compose validates the request and loads its media once for all recipients.
func (p *Publisher) compose(ctx context.Context, req BulkRequest) (*composition, error) {
	if len(req.Recipients) == 0 {
		return nil, model.Validationf("email requires at least one recipient")
	}
	if req.Subject == "" {
		return nil, model.Validationf("email subject is required")
	}

	body := req.Content
	if htmltext.IsHTML(body) {
		if err := htmltext.Validate(body); err != nil {
			return nil, model.Validationf("email content is not valid html: %w", err)
		}
	} else {
		body = htmltext.Paragraphs(body)
	}
	if body == "" {
		return nil, model.Validationf("email content is empty")
	}

	opts := req.Options
	if len(req.Recipients) > 1 && len(opts.CC)+len(opts.BCC) > 0 {
		return nil, model.Validationf("cc and bcc are only supported when sending to a single recipient, got %d recipients", len(req.Recipients))
	}
	for _, address := range append(append([]string{}, opts.CC...), opts.BCC...) {
		if err := p.checkAddress(address); err != nil {
			return nil, err
		}
	}
	if opts.ReplyTo != "" {
		if err := p.checkAddress(opts.ReplyTo); err != nil {
			return nil, err
		}
	}

	c := &composition{
		subject:        req.Subject,
		preheader:      opts.Preheader,
		footer:         opts.Footer,
		unsubscribeURL: opts.UnsubscribeURL,
		replyTo:        opts.ReplyTo,
		cc:             opts.CC,
		bcc:            opts.BCC,
	}
	if c.footer == "" {
		c.footer = fmt.Sprintf("© %d %s. All rights reserved.", time.Now().Year(), p.fromName)
	}

	if opts.HeaderImageURL != "" {
		asset, err := p.fetcher.Fetch(ctx, model.MediaReference{URL: opts.HeaderImageURL, Type: model.MediaTypeImage})
		if err != nil {
			return nil, fmt.Errorf("header image: %w", err)
		}
		c.header = asset
	}

	for i, ref := range req.Media {
		asset, err := p.fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("media %d: %w", i+1, err)
		}
		if ref.Type == model.MediaTypeVideo {
			c.attachments = append(c.attachments, asset)
			continue
		}
		c.images = append(c.images, inlineImage{cid: fmt.Sprintf("image-%d", len(c.images)+1), asset: asset})
	}

	c.body = body + inlineTags(c.images)
	return c, nil
}
