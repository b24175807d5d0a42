package wordpress

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/media"
	"uk.co.dudmesh.herald/internal/model"
)

var methodName = regexp.MustCompile(`<methodName>([^<]+)</methodName>`)

const responseTemplate = `<?xml version="1.0"?><methodResponse><params><param><value>%s</value></param></params></methodResponse>`

const faultTemplate = `<?xml version="1.0"?><methodResponse><fault><value><struct>` +
	`<member><name>faultCode</name><value><int>%d</int></value></member>` +
	`<member><name>faultString</name><value><string>%s</string></value></member>` +
	`</struct></value></fault></methodResponse>`

type call struct {
	method string
	body   string
}

type fakeWordPress struct {
	server *httptest.Server

	mu      sync.Mutex
	calls   []call
	media   int
	fault   int
	status  int
	authHdr string
}

func newFakeWordPress(t *testing.T) *fakeWordPress {
	fake := &fakeWordPress{}
	fake.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/files/") {
			w.Write([]byte("bytes of " + strings.TrimPrefix(r.URL.Path, "/files/")))
			return
		}

		body, _ := io.ReadAll(r.Body)
		m := methodName.FindStringSubmatch(string(body))
		if m == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		fake.mu.Lock()
		defer fake.mu.Unlock()
		fake.calls = append(fake.calls, call{m[1], string(body)})
		user, pass, _ := r.BasicAuth()
		fake.authHdr = user + ":" + pass

		if fake.status != 0 {
			w.WriteHeader(fake.status)
			return
		}
		if fake.fault != 0 {
			fmt.Fprintf(w, faultTemplate, fake.fault, "Nope.")
			return
		}

		switch m[1] {
		case "metaWeblog.newMediaObject":
			fake.media++
			fmt.Fprintf(w, responseTemplate, fmt.Sprintf(`<struct>`+
				`<member><name>id</name><value><string>%[1]d</string></value></member>`+
				`<member><name>url</name><value><string>https://blog.example.com/uploads/%[1]d.png</string></value></member>`+
				`<member><name>file</name><value><string>%[1]d.png</string></value></member>`+
				`<member><name>type</name><value><string>image/png</string></value></member>`+
				`</struct>`, 100+fake.media))
		case "metaWeblog.newPost":
			fmt.Fprintf(w, responseTemplate, `<string>42</string>`)
		case "wp.getUsersBlogs":
			fmt.Fprintf(w, responseTemplate, `<array><data><value><struct>`+
				`<member><name>blogid</name><value><string>1</string></value></member>`+
				`<member><name>blogName</name><value><string>Blog</string></value></member>`+
				`<member><name>isAdmin</name><value><boolean>1</boolean></value></member>`+
				`</struct></value></data></array>`)
		}
	}))
	t.Cleanup(fake.server.Close)
	return fake
}

func (f *fakeWordPress) publisher() *Publisher {
	return New(&boot.WordPressConfig{
		URL:      f.server.URL + "/",
		Username: "editor",
		Password: "app-pass",
		BlogID:   1,
	}, media.NewFetcher(5*time.Second, 1<<20), nil)
}

func (f *fakeWordPress) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	methods := []string{}
	for _, c := range f.calls {
		methods = append(methods, c.method)
	}
	return methods
}

func (f *fakeWordPress) lastBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1].body
}

func TestPublishText(t *testing.T) {
	assert := assert.New(t)
	fake := newFakeWordPress(t)

	result := fake.publisher().PublishText(context.Background(), "First paragraph\n\nSecond & last", model.Options{
		WordPress: model.WordPressOptions{
			Title:      "Launch day",
			Categories: []string{"News"},
			Tags:       []string{"go", "release"},
			Excerpt:    "Short",
		},
	})

	assert.True(result.Success, result.Error)
	assert.Equal("42", result.ExternalID)
	assert.Equal(fake.server.URL+"/?p=42", result.URL)
	assert.Equal([]string{"metaWeblog.newPost"}, fake.methods())
	assert.Equal("editor:app-pass", fake.authHdr)

	body := fake.lastBody()
	assert.Contains(body, "Launch day")
	assert.Contains(body, "&lt;p&gt;First paragraph&lt;/p&gt;")
	assert.Contains(body, "go,release")
	assert.Contains(body, "mt_excerpt")
	assert.Contains(body, "<string>publish</string>")
	assert.NotContains(body, "wp_post_thumbnail")
}

func TestPublishTextUploadsFeaturedImage(t *testing.T) {
	assert := assert.New(t)
	fake := newFakeWordPress(t)

	result := fake.publisher().PublishText(context.Background(), "Hello", model.Options{
		WordPress: model.WordPressOptions{FeaturedImageURL: fake.server.URL + "/files/hero.png"},
	})

	assert.True(result.Success, result.Error)
	assert.Equal([]string{"metaWeblog.newMediaObject", "metaWeblog.newPost"}, fake.methods())

	body := fake.lastBody()
	assert.Contains(body, "wp_post_thumbnail")
	assert.Contains(body, "<string>101</string>")
	assert.NotContains(body, "uploads/101.png")
}

func TestPublishWithMedia(t *testing.T) {
	assert := assert.New(t)
	fake := newFakeWordPress(t)

	refs := []model.MediaReference{
		{URL: fake.server.URL + "/files/hero.png", Type: model.MediaTypeImage},
		{URL: fake.server.URL + "/files/detail.png", Type: model.MediaTypeImage},
		{URL: fake.server.URL + "/files/clip.mp4", Type: model.MediaTypeVideo},
	}
	result := fake.publisher().PublishWithMedia(context.Background(), "<p>Post</p>", refs, model.Options{
		Title:     "Gallery",
		WordPress: model.WordPressOptions{UseFirstImageAsFeatured: true, Status: "draft"},
	})

	assert.True(result.Success, result.Error)
	assert.Equal([]string{
		"metaWeblog.newMediaObject",
		"metaWeblog.newMediaObject",
		"metaWeblog.newMediaObject",
		"metaWeblog.newPost",
	}, fake.methods())

	body := fake.lastBody()
	assert.Contains(body, "wp_post_thumbnail")
	assert.Contains(body, "<string>101</string>")
	assert.NotContains(body, "uploads/101.png")
	assert.Contains(body, "uploads/102.png")
	assert.Contains(body, "&lt;video controls src=&#34;https://blog.example.com/uploads/103.png&#34;&gt;")
	assert.Contains(body, "<string>draft</string>")
	assert.Less(strings.Index(body, "uploads/102.png"), strings.Index(body, "uploads/103.png"))
}

func TestPublishMediaFailureAbortsPost(t *testing.T) {
	assert := assert.New(t)
	fake := newFakeWordPress(t)

	refs := []model.MediaReference{{URL: "/definitely/not/here.png", Type: model.MediaTypeImage}}
	result := fake.publisher().PublishWithMedia(context.Background(), "Post", refs, model.Options{})

	assert.False(result.Success)
	assert.Equal(model.ErrorKindValidation, result.ErrorKind)
	assert.Empty(fake.methods())
}

func TestFaults(t *testing.T) {
	cases := []struct {
		name   string
		fault  int
		status int
		kind   model.ErrorKind
	}{
		{"Bad credentials", 403, 0, model.ErrorKindAuth},
		{"XML-RPC disabled", 405, 0, model.ErrorKindValidation},
		{"Invalid post", 500, 0, model.ErrorKindValidation},
		{"Unauthorized", 0, http.StatusUnauthorized, model.ErrorKindAuth},
		{"Server down", 0, http.StatusBadGateway, model.ErrorKindTransient},
		{"Rate limited", 0, http.StatusTooManyRequests, model.ErrorKindTransient},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fake := newFakeWordPress(t)
			fake.fault = c.fault
			fake.status = c.status

			result := fake.publisher().PublishText(context.Background(), "Hello", model.Options{})
			assert.False(t, result.Success)
			assert.Equal(t, c.kind, result.ErrorKind, result.Error)
			assert.Equal(t, c.kind == model.ErrorKindTransient, result.Retryable)
		})
	}
}

func TestUnreachable(t *testing.T) {
	fake := newFakeWordPress(t)
	publisher := fake.publisher()
	fake.server.Close()

	result := publisher.PublishText(context.Background(), "Hello", model.Options{})
	assert.Equal(t, model.ErrorKindTransient, result.ErrorKind)
}

func TestPing(t *testing.T) {
	fake := newFakeWordPress(t)
	assert.Nil(t, fake.publisher().Ping(context.Background()))
	assert.Equal(t, []string{"wp.getUsersBlogs"}, fake.methods())

	fake.fault = 403
	assert.Equal(t, model.ErrorKindAuth, model.KindOf(fake.publisher().Ping(context.Background())))
}

func TestTitleFor(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("Explicit", titleFor(model.Options{Title: "Draft", WordPress: model.WordPressOptions{Title: "Explicit"}}, ""))
	assert.Equal("Draft", titleFor(model.Options{Title: "Draft"}, ""))
	assert.Equal("Heading", titleFor(model.Options{}, "<h2>Heading</h2><p>Body</p>"))
	assert.Equal("Untitled", titleFor(model.Options{}, ""))
}

func TestEndpoint(t *testing.T) {
	assert := assert.New(t)
	p := New(&boot.WordPressConfig{URL: "https://blog.example.com/xmlrpc.php"}, nil, nil)
	assert.Equal("https://blog.example.com/xmlrpc.php", p.endpoint)
	assert.Equal("https://blog.example.com", p.site)

	p = New(&boot.WordPressConfig{URL: "https://blog.example.com/"}, nil, nil)
	assert.Equal("https://blog.example.com/xmlrpc.php", p.endpoint)
}
