// Package newsletter renders message bodies into the HTML newsletter layout.
package newsletter

import (
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/gommon/log"
)

//go:embed layout.html
var defaultLayout string

type Page struct {
	Title          string
	Preheader      string
	HeaderImageCID string
	Content        template.HTML
	Footer         string
	UnsubscribeURL string
}

type Layout struct {
	path     string
	mu       sync.RWMutex
	template *template.Template
	watcher  *fsnotify.Watcher
}

// New loads the layout from path, or the built-in layout when path is empty.
func New(path string) (*Layout, error) {
	l := &Layout{path: path}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Layout) load() error {
	source := defaultLayout
	name := "layout.html"
	if l.path != "" {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return fmt.Errorf("reading newsletter layout: %w", err)
		}
		source = string(data)
		name = filepath.Base(l.path)
	}

	t, err := template.New(name).Parse(source)
	if err != nil {
		return fmt.Errorf("parsing newsletter layout: %w", err)
	}

	l.mu.Lock()
	l.template = t
	l.mu.Unlock()
	return nil
}

func (l *Layout) Render(page Page) (string, error) {
	if page.Title == "" {
		page.Title = "Newsletter"
	}

	l.mu.RLock()
	t := l.template
	l.mu.RUnlock()

	sb := &strings.Builder{}
	if err := t.Execute(sb, page); err != nil {
		return "", fmt.Errorf("rendering newsletter layout: %w", err)
	}
	return sb.String(), nil
}

// Watch reloads the layout file whenever it is written. A layout that fails
// to parse is logged and the previous one kept.
func (l *Layout) Watch() error {
	if l.path == "" {
		return nil
	}

	var err error
	l.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-l.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(l.path) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					log.Infof("reloading newsletter layout: %s", event.Name)
					if err := l.load(); err != nil {
						log.Errorf("newsletter layout: %+v", err)
					}
				}
			case err, ok := <-l.watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("watcher: %+v", err)
			}
		}
	}()

	// watch the directory so editors that replace the file are seen
	if err := l.watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watching %s: %w", l.path, err)
	}
	return nil
}

func (l *Layout) Close() {
	if l.watcher != nil {
		l.watcher.Close()
	}
}
