package model

import (
	"path"
	"strings"
)

type Channel string

const (
	ChannelLinkedIn  Channel = "linkedin"
	ChannelWordPress Channel = "wordpress"
	ChannelEmail     Channel = "email"
)

var KnownChannels = []Channel{ChannelLinkedIn, ChannelWordPress, ChannelEmail}

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".webm": true,
	".avi":  true,
	".mkv":  true,
}

type MediaReference struct {
	URL  string    `json:"url" validate:"required"`
	Type MediaType `json:"type" validate:"required,oneof=image video"`
}

// MediaTypeFromURL guesses the media type of a bare URL or path by extension.
func MediaTypeFromURL(rawURL string) MediaType {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if videoExtensions[strings.ToLower(path.Ext(p))] {
		return MediaTypeVideo
	}
	return MediaTypeImage
}

type DraftStatus string

const (
	DraftStatusPublished          DraftStatus = "published"
	DraftStatusPartiallyPublished DraftStatus = "partially_published"
	DraftStatusFailed             DraftStatus = "failed"
)

type Draft struct {
	ID         string
	Title      string
	Content    string
	Channels   []Channel
	Media      []MediaReference
	CampaignID string
	Options    Options
}

func (d *Draft) HasMedia() bool {
	return len(d.Media) > 0
}

type Options struct {
	DraftID   string           `json:"-"`
	Title     string           `json:"-"`
	LinkedIn  LinkedInOptions  `json:"linkedin"`
	WordPress WordPressOptions `json:"wordpress"`
	Email     EmailOptions     `json:"email"`
}

type LinkedInOptions struct {
	Visibility string   `json:"visibility" validate:"omitempty,oneof=PUBLIC CONNECTIONS LOGGED_IN"`
	Hashtags   []string `json:"hashtags"`
}

type WordPressOptions struct {
	Title                   string   `json:"title"`
	Categories              []string `json:"categories"`
	Tags                    []string `json:"tags"`
	Status                  string   `json:"status" validate:"omitempty,oneof=publish draft pending private"`
	Excerpt                 string   `json:"excerpt"`
	FeaturedImageURL        string   `json:"featured_image_url" validate:"omitempty,url"`
	UseFirstImageAsFeatured bool     `json:"use_first_image_as_featured"`
}

type EmailOptions struct {
	Subject        string      `json:"subject"`
	Recipients     []Recipient `json:"recipients" validate:"dive"`
	Preheader      string      `json:"preheader"`
	Footer         string      `json:"footer"`
	UnsubscribeURL string      `json:"unsubscribe_url" validate:"omitempty,url"`
	HeaderImageURL string      `json:"header_image_url" validate:"omitempty,url"`
	ReplyTo        string      `json:"reply_to"`
	CC             []string    `json:"cc"`
	BCC            []string    `json:"bcc"`
}

type Recipient struct {
	Email  string            `json:"email" validate:"required"`
	Fields map[string]string `json:"fields"`
}
