package linkedin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/publisher"
)

const (
	MaxImages = 9
	MaxVideos = 1
)

type Publisher struct {
	apiURL    string
	token     string
	policy    string
	client    *http.Client
	fetcher   publisher.MediaFetcher
	authorMu  sync.Mutex
	authorURN string
}

func New(config *boot.LinkedInConfig, fetcher publisher.MediaFetcher, client *http.Client) *Publisher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Publisher{
		apiURL:    strings.TrimRight(config.APIURL, "/"),
		token:     config.AccessToken,
		policy:    config.OverflowPolicy,
		client:    client,
		fetcher:   fetcher,
		authorURN: config.AuthorURN,
	}
}

func (p *Publisher) Channel() model.Channel {
	return model.ChannelLinkedIn
}

func (p *Publisher) PublishText(ctx context.Context, content string, opts model.Options) model.PublishResult {
	started := time.Now()

	commentary, err := Format(content, opts.LinkedIn.Hashtags, p.policy)
	if err != nil {
		return p.fail(started, opts, err)
	}

	author, err := p.author(ctx)
	if err != nil {
		return p.fail(started, opts, err)
	}

	post := newPost(author, commentary, opts.LinkedIn.Visibility)
	return p.create(ctx, started, opts, post)
}

func (p *Publisher) PublishWithMedia(ctx context.Context, content string, refs []model.MediaReference, opts model.Options) model.PublishResult {
	if len(refs) == 0 {
		return p.PublishText(ctx, content, opts)
	}
	started := time.Now()

	commentary, err := Format(content, opts.LinkedIn.Hashtags, p.policy)
	if err != nil {
		return p.fail(started, opts, err)
	}
	category, err := mediaCategory(refs)
	if err != nil {
		return p.fail(started, opts, err)
	}

	author, err := p.author(ctx)
	if err != nil {
		return p.fail(started, opts, err)
	}

	post := newPost(author, commentary, opts.LinkedIn.Visibility)
	post.SpecificContent.ShareContent.ShareMediaCategory = category

	switch category {
	case categoryImage:
		for i, ref := range refs {
			asset, err := p.fetcher.Fetch(ctx, ref)
			if err != nil {
				return p.fail(started, opts, fmt.Errorf("image %d: %w", i+1, err))
			}
			urn, err := p.uploadImage(ctx, author, asset.Data, asset.ContentType)
			if err != nil {
				return p.fail(started, opts, fmt.Errorf("image %d: %w", i+1, err))
			}
			post.SpecificContent.ShareContent.Media = append(post.SpecificContent.ShareContent.Media, shareMedia{
				Status: "READY",
				Media:  urn,
			})
		}

	case categoryVideo:
		asset, err := p.fetcher.Fetch(ctx, refs[0])
		if err != nil {
			return p.fail(started, opts, fmt.Errorf("video: %w", err))
		}
		urn, err := p.uploadVideo(ctx, author, asset.Data)
		if err != nil {
			return p.fail(started, opts, fmt.Errorf("video: %w", err))
		}
		title := opts.Title
		if title == "" {
			title = "Video Post"
		}
		post.SpecificContent.ShareContent.Media = []shareMedia{{
			Status:      "READY",
			Media:       urn,
			Title:       &text{Text: title},
			Description: &text{Text: commentary},
		}}
	}

	return p.create(ctx, started, opts, post)
}

// Ping checks that the access token is accepted.
func (p *Publisher) Ping(ctx context.Context) error {
	_, err := p.me(ctx)
	return err
}

func mediaCategory(refs []model.MediaReference) (string, error) {
	images, videos := 0, 0
	for _, ref := range refs {
		switch ref.Type {
		case model.MediaTypeImage:
			images++
		case model.MediaTypeVideo:
			videos++
		default:
			return "", model.Validationf("unsupported media type %q", ref.Type)
		}
	}

	switch {
	case images > 0 && videos > 0:
		return "", model.Validationf("linkedin posts cannot mix images and video")
	case images > MaxImages:
		return "", model.Validationf("linkedin allows at most %d images per post, got %d", MaxImages, images)
	case videos > MaxVideos:
		return "", model.Validationf("linkedin allows only %d video per post, got %d", MaxVideos, videos)
	case videos == 1:
		return categoryVideo, nil
	}
	return categoryImage, nil
}

func newPost(author, commentary, visibility string) *ugcPost {
	if visibility == "" {
		visibility = defaultVisibility
	}
	post := &ugcPost{
		Author:         author,
		LifecycleState: lifecyclePublished,
	}
	post.SpecificContent.ShareContent = shareContent{
		ShareCommentary:    text{Text: commentary},
		ShareMediaCategory: categoryNone,
	}
	post.Visibility.MemberNetworkVisibility = visibility
	return post
}

func (p *Publisher) create(ctx context.Context, started time.Time, opts model.Options, post *ugcPost) model.PublishResult {
	created := ugcPostResponse{}
	header, err := p.call(ctx, http.MethodPost, "/ugcPosts", post, &created)
	if err != nil {
		return p.fail(started, opts, fmt.Errorf("creating post: %w", err))
	}

	postID := header.Get("X-RestLi-Id")
	if postID == "" {
		postID = created.ID
	}
	if postID == "" {
		return p.fail(started, opts, model.Transientf("creating post: response carried no post id"))
	}

	log.Infoj(log.JSON{"event": "published", "channel": model.ChannelLinkedIn, "draft_id": opts.DraftID, "external_id": postID})
	return publisher.Finish(model.Succeeded(model.ChannelLinkedIn, postID, postURLPrefix+postID+"/"), started)
}

func (p *Publisher) fail(started time.Time, opts model.Options, err error) model.PublishResult {
	result := model.Failed(model.ChannelLinkedIn, err)
	log.Warnj(log.JSON{"event": "publish_failed", "channel": model.ChannelLinkedIn, "draft_id": opts.DraftID, "error_kind": result.ErrorKind, "error": result.Error})
	return publisher.Finish(result, started)
}

// author returns the configured or cached author URN, looking it up with /me
// the first time. The lookup runs outside the lock, so concurrent first calls
// may each query /me.
func (p *Publisher) author(ctx context.Context) (string, error) {
	p.authorMu.Lock()
	urn := p.authorURN
	p.authorMu.Unlock()
	if urn != "" {
		return urn, nil
	}

	urn, err := p.me(ctx)
	if err != nil {
		return "", err
	}

	p.authorMu.Lock()
	p.authorURN = urn
	p.authorMu.Unlock()
	return urn, nil
}

func (p *Publisher) me(ctx context.Context) (string, error) {
	me := meResponse{}
	if _, err := p.call(ctx, http.MethodGet, "/me", nil, &me); err != nil {
		return "", fmt.Errorf("fetching profile: %w", err)
	}
	if me.ID == "" {
		return "", model.Transientf("fetching profile: response carried no id")
	}
	return "urn:li:person:" + me.ID, nil
}

// call sends a JSON request to the REST API and decodes a JSON response into out.
func (p *Publisher) call(ctx context.Context, method, path string, in, out interface{}) (http.Header, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.apiURL+path, body)
	if err != nil {
		return nil, model.Validationf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := p.client.Do(req)
	if err != nil {
		return nil, publisher.ClassifyTransport(method+" "+path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, publisher.ClassifyTransport("reading response", err)
	}
	if err := publisher.ClassifyStatus(res.StatusCode, string(raw)); err != nil {
		return nil, err
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, model.Transientf("decoding response: %w", err)
		}
	}
	return res.Header, nil
}
