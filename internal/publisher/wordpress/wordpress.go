package wordpress

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/publisher"
	"uk.co.dudmesh.herald/pkg/htmltext"
)

const (
	defaultStatus  = "publish"
	maxTitleLength = 100
	xmlrpcPath     = "/xmlrpc.php"
)

type Publisher struct {
	endpoint string
	site     string
	username string
	password string
	blogID   int
	base     http.RoundTripper
	fetcher  publisher.MediaFetcher
}

type uploadedMedia struct {
	ID           string `xmlrpc:"id"`
	AttachmentID string `xmlrpc:"attachment_id"`
	URL          string `xmlrpc:"url"`
	File         string `xmlrpc:"file"`
	Type         string `xmlrpc:"type"`
}

func (m *uploadedMedia) mediaID() string {
	if m.AttachmentID != "" {
		return m.AttachmentID
	}
	return m.ID
}

type userBlog struct {
	BlogID   string `xmlrpc:"blogid"`
	BlogName string `xmlrpc:"blogName"`
	URL      string `xmlrpc:"url"`
	XMLRPC   string `xmlrpc:"xmlrpc"`
	IsAdmin  bool   `xmlrpc:"isAdmin"`
}

func New(config *boot.WordPressConfig, fetcher publisher.MediaFetcher, base http.RoundTripper) *Publisher {
	if base == nil {
		base = http.DefaultTransport
	}
	site := strings.TrimSuffix(strings.TrimRight(config.URL, "/"), xmlrpcPath)
	return &Publisher{
		endpoint: site + xmlrpcPath,
		site:     site,
		username: config.Username,
		password: config.Password,
		blogID:   config.BlogID,
		base:     base,
		fetcher:  fetcher,
	}
}

func (p *Publisher) Channel() model.Channel {
	return model.ChannelWordPress
}

func (p *Publisher) PublishText(ctx context.Context, content string, opts model.Options) model.PublishResult {
	if opts.WordPress.FeaturedImageURL != "" {
		return p.PublishWithMedia(ctx, content, nil, opts)
	}
	started := time.Now()
	return p.publish(ctx, started, htmltext.EnsureHTML(content), "", opts)
}

func (p *Publisher) PublishWithMedia(ctx context.Context, content string, refs []model.MediaReference, opts model.Options) model.PublishResult {
	started := time.Now()
	body := htmltext.EnsureHTML(content)

	featured, remaining := splitFeatured(refs, opts.WordPress)

	thumbnailID := ""
	if featured != nil {
		uploaded, err := p.upload(ctx, *featured)
		if err != nil {
			return p.fail(started, opts, fmt.Errorf("featured image: %w", err))
		}
		thumbnailID = uploaded.mediaID()
	}

	for i, ref := range remaining {
		uploaded, err := p.upload(ctx, ref)
		if err != nil {
			return p.fail(started, opts, fmt.Errorf("media %d: %w", i+1, err))
		}
		body += "\n" + embedTag(ref.Type, uploaded)
	}

	return p.publish(ctx, started, body, thumbnailID, opts)
}

// Ping checks the credentials with wp.getUsersBlogs.
func (p *Publisher) Ping(ctx context.Context) error {
	blogs := []userBlog{}
	if err := p.call(ctx, "wp.getUsersBlogs", []interface{}{p.username, p.password}, &blogs); err != nil {
		return err
	}
	if len(blogs) == 0 {
		return model.Authf("wp.getUsersBlogs: user %s has no blogs", p.username)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, started time.Time, body, thumbnailID string, opts model.Options) model.PublishResult {
	post := map[string]interface{}{
		"title":       titleFor(opts, body),
		"description": body,
		"post_status": statusFor(opts.WordPress),
	}
	if len(opts.WordPress.Categories) > 0 {
		post["categories"] = opts.WordPress.Categories
	}
	if len(opts.WordPress.Tags) > 0 {
		post["mt_keywords"] = strings.Join(opts.WordPress.Tags, ",")
	}
	if opts.WordPress.Excerpt != "" {
		post["mt_excerpt"] = opts.WordPress.Excerpt
	}
	if thumbnailID != "" {
		post["wp_post_thumbnail"] = thumbnailID
	}

	var postID string
	args := []interface{}{p.blogID, p.username, p.password, post, true}
	if err := p.call(ctx, "metaWeblog.newPost", args, &postID); err != nil {
		return p.fail(started, opts, err)
	}
	if postID == "" {
		return p.fail(started, opts, model.Transientf("metaWeblog.newPost: no post id returned"))
	}

	log.Infoj(log.JSON{"event": "published", "channel": model.ChannelWordPress, "draft_id": opts.DraftID, "external_id": postID})
	return publisher.Finish(model.Succeeded(model.ChannelWordPress, postID, p.site+"/?p="+postID), started)
}

func (p *Publisher) upload(ctx context.Context, ref model.MediaReference) (*uploadedMedia, error) {
	asset, err := p.fetcher.Fetch(ctx, ref)
	if err != nil {
		return nil, err
	}

	file := map[string]interface{}{
		"name":      asset.Name,
		"type":      asset.ContentType,
		"bits":      asset.Data,
		"overwrite": false,
	}
	uploaded := &uploadedMedia{}
	args := []interface{}{p.blogID, p.username, p.password, file}
	if err := p.call(ctx, "metaWeblog.newMediaObject", args, uploaded); err != nil {
		return nil, err
	}
	if uploaded.URL == "" {
		return nil, model.Transientf("metaWeblog.newMediaObject: no url returned for %s", asset.Name)
	}
	return uploaded, nil
}

func (p *Publisher) fail(started time.Time, opts model.Options, err error) model.PublishResult {
	result := model.Failed(model.ChannelWordPress, err)
	log.Warnj(log.JSON{"event": "publish_failed", "channel": model.ChannelWordPress, "draft_id": opts.DraftID, "error_kind": result.ErrorKind, "error": result.Error})
	return publisher.Finish(result, started)
}

// splitFeatured picks the featured image: an explicit URL, or the first image
// reference when requested. That reference is not embedded again.
func splitFeatured(refs []model.MediaReference, opts model.WordPressOptions) (*model.MediaReference, []model.MediaReference) {
	if opts.FeaturedImageURL != "" {
		return &model.MediaReference{URL: opts.FeaturedImageURL, Type: model.MediaTypeImage}, refs
	}
	if !opts.UseFirstImageAsFeatured {
		return nil, refs
	}
	for i, ref := range refs {
		if ref.Type == model.MediaTypeImage {
			remaining := make([]model.MediaReference, 0, len(refs)-1)
			remaining = append(remaining, refs[:i]...)
			remaining = append(remaining, refs[i+1:]...)
			featured := ref
			return &featured, remaining
		}
	}
	return nil, refs
}

func embedTag(mediaType model.MediaType, uploaded *uploadedMedia) string {
	src := html.EscapeString(uploaded.URL)
	if mediaType == model.MediaTypeVideo {
		return fmt.Sprintf(`<video controls src="%s"></video>`, src)
	}
	return fmt.Sprintf(`<img src="%s" alt="" class="wp-image-%s" />`, src, html.EscapeString(uploaded.mediaID()))
}

func statusFor(opts model.WordPressOptions) string {
	if opts.Status == "" {
		return defaultStatus
	}
	return opts.Status
}

// titleFor prefers the WordPress title option, then the draft title, then the
// first line of the content.
func titleFor(opts model.Options, body string) string {
	if opts.WordPress.Title != "" {
		return opts.WordPress.Title
	}
	if opts.Title != "" {
		return opts.Title
	}
	text := htmltext.ToText(body)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > maxTitleLength {
		text = string([]rune(text)[:maxTitleLength-3]) + "..."
	}
	if text == "" {
		return "Untitled"
	}
	return text
}
