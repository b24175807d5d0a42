package email

import (
	"context"
	"crypto/tls"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/gommon/log"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/newsletter"
	"uk.co.dudmesh.herald/internal/publisher"
)

// Dialer opens one SMTP session. *gomail.Dialer satisfies it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

type Publisher struct {
	from      string
	fromName  string
	batchSize int
	dialer    Dialer
	layout    *newsletter.Layout
	fetcher   publisher.MediaFetcher
	validate  *validator.Validate
	limiter   *rate.Limiter
}

// NewDialer uses STARTTLS, or implicit TLS on port 465.
func NewDialer(config *boot.SMTPConfig) *gomail.Dialer {
	dialer := gomail.NewDialer(config.Host, config.Port, config.Username, config.Password)
	dialer.SSL = config.Port == 465
	dialer.TLSConfig = &tls.Config{ServerName: config.Host, MinVersion: tls.VersionTLS12}
	return dialer
}

func New(config *boot.SMTPConfig, dialer Dialer, layout *newsletter.Layout, fetcher publisher.MediaFetcher) *Publisher {
	limit := rate.Inf
	if config.BatchInterval > 0 {
		limit = rate.Every(config.BatchInterval)
	}
	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Publisher{
		from:      config.Sender(),
		fromName:  config.FromName,
		batchSize: batchSize,
		dialer:    dialer,
		layout:    layout,
		fetcher:   fetcher,
		validate:  validator.New(),
		limiter:   rate.NewLimiter(limit, 1),
	}
}

func (p *Publisher) Channel() model.Channel {
	return model.ChannelEmail
}

func (p *Publisher) PublishText(ctx context.Context, content string, opts model.Options) model.PublishResult {
	return p.PublishWithMedia(ctx, content, nil, opts)
}

func (p *Publisher) PublishWithMedia(ctx context.Context, content string, refs []model.MediaReference, opts model.Options) model.PublishResult {
	started := time.Now()

	subject := opts.Email.Subject
	if subject == "" {
		subject = opts.Title
	}

	summary, err := p.SendBulk(ctx, BulkRequest{
		DraftID:    opts.DraftID,
		Subject:    subject,
		Content:    content,
		Recipients: opts.Email.Recipients,
		Media:      refs,
		Options:    opts.Email,
	})
	if err != nil {
		return p.fail(started, opts, err, nil)
	}

	if summary.Sent == 0 {
		first := summary.Failures[0]
		err := model.Errorf(first.ErrorKind, "no messages delivered, first failure for %s: %s", first.Email, first.Error)
		return p.fail(started, opts, err, summary)
	}

	result := model.Succeeded(model.ChannelEmail, strconv.Itoa(summary.Sent), "")
	result.Delivery = summary
	log.Infoj(log.JSON{"event": "published", "channel": model.ChannelEmail, "draft_id": opts.DraftID, "sent": summary.Sent, "failed": summary.Failed})
	return publisher.Finish(result, started)
}

// Ping opens and closes an authenticated SMTP session.
func (p *Publisher) Ping(ctx context.Context) error {
	sender, err := p.dialer.Dial()
	if err != nil {
		return classify("connecting to smtp server", err)
	}
	return sender.Close()
}

func (p *Publisher) fail(started time.Time, opts model.Options, err error, summary *model.DeliverySummary) model.PublishResult {
	result := model.Failed(model.ChannelEmail, err)
	result.Delivery = summary
	log.Warnj(log.JSON{"event": "publish_failed", "channel": model.ChannelEmail, "draft_id": opts.DraftID, "error_kind": result.ErrorKind, "error": result.Error})
	return publisher.Finish(result, started)
}

func (p *Publisher) checkAddress(address string) error {
	if err := p.validate.Var(address, "required,email"); err != nil {
		return model.Validationf("invalid email address %q", address)
	}
	return nil
}
