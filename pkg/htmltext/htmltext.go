// Package htmltext inspects and converts the HTML bodies handed to publishers.
package htmltext

import (
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Source: true,
	atom.Track: true, atom.Wbr: true,
}

// elements whose end tag may be omitted
var optionalEnd = map[atom.Atom]bool{
	atom.P: true, atom.Li: true, atom.Dt: true, atom.Dd: true,
	atom.Tr: true, atom.Td: true, atom.Th: true, atom.Option: true,
	atom.Thead: true, atom.Tbody: true, atom.Tfoot: true, atom.Colgroup: true,
	atom.Html: true, atom.Head: true, atom.Body: true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Ul: true, atom.Ol: true,
	atom.Table: true, atom.Tr: true, atom.Blockquote: true,
	atom.Pre: true, atom.Section: true, atom.Article: true, atom.Header: true,
	atom.Footer: true, atom.Hr: true,
}

var anyTag = regexp.MustCompile(`<[A-Za-z][A-Za-z0-9-]*(\s[^<>]*)?/?>`)
var blankLines = regexp.MustCompile(`\n\s*\n`)
var extraNewlines = regexp.MustCompile(`\n{3,}`)
var spaces = regexp.MustCompile(`[ \t\r\f]+`)

// IsHTML reports whether s contains at least one element tag.
func IsHTML(s string) bool {
	return anyTag.MatchString(s)
}

// Validate checks that every non-void element in s is closed in order.
func Validate(s string) error {
	stack := []string{}
	z := xhtml.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			if !errors.Is(z.Err(), io.EOF) {
				return fmt.Errorf("parsing html: %w", z.Err())
			}
			for i := len(stack) - 1; i >= 0; i-- {
				if !optionalEnd[atom.Lookup([]byte(stack[i]))] {
					return fmt.Errorf("unclosed tag <%s>", stack[i])
				}
			}
			return nil

		case xhtml.StartTagToken:
			name, _ := z.TagName()
			tag := strings.ToLower(string(name))
			if voidElements[atom.Lookup([]byte(tag))] {
				continue
			}
			stack = append(stack, tag)

		case xhtml.EndTagToken:
			name, _ := z.TagName()
			tag := strings.ToLower(string(name))
			if voidElements[atom.Lookup([]byte(tag))] {
				continue
			}
			i := len(stack) - 1
			for ; i >= 0 && stack[i] != tag; i-- {
				if !optionalEnd[atom.Lookup([]byte(stack[i]))] {
					return fmt.Errorf("unexpected closing tag </%s>, expected </%s>", tag, stack[i])
				}
			}
			if i < 0 {
				return fmt.Errorf("unexpected closing tag </%s>", tag)
			}
			stack = stack[:i]
		}
	}
}

// Paragraphs turns plain text into HTML paragraphs. Blank lines separate
// paragraphs and single newlines become line breaks.
func Paragraphs(text string) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n")
	if text == "" {
		return ""
	}

	sb := strings.Builder{}
	for _, para := range blankLines.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(lines[i]))
		}
		sb.WriteString("<p>")
		sb.WriteString(strings.Join(lines, "<br>"))
		sb.WriteString("</p>\n")
	}
	return sb.String()
}

// EnsureHTML returns s unchanged if it is HTML, otherwise wrapped as paragraphs.
func EnsureHTML(s string) string {
	if IsHTML(s) {
		return s
	}
	return Paragraphs(s)
}

// ToText renders HTML as readable plain text.
func ToText(s string) string {
	sb := strings.Builder{}
	skip := 0
	var href string

	z := xhtml.NewTokenizer(strings.NewReader(s))
loop:
	for {
		tt := z.Next()
		switch tt {
		case xhtml.ErrorToken:
			break loop

		case xhtml.TextToken:
			if skip > 0 {
				continue
			}
			sb.WriteString(spaces.ReplaceAllString(strings.ReplaceAll(string(z.Text()), "\n", " "), " "))

		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			token := z.Token()
			switch token.DataAtom {
			case atom.Script, atom.Style, atom.Head:
				if tt == xhtml.StartTagToken {
					skip++
				}
			case atom.Br:
				sb.WriteString("\n")
			case atom.Li:
				sb.WriteString("\n- ")
			case atom.A:
				href = ""
				for _, attr := range token.Attr {
					if attr.Key == "href" {
						href = attr.Val
					}
				}
			default:
				if blockElements[token.DataAtom] {
					sb.WriteString("\n\n")
				}
			}

		case xhtml.EndTagToken:
			token := z.Token()
			switch token.DataAtom {
			case atom.Script, atom.Style, atom.Head:
				if skip > 0 {
					skip--
				}
			case atom.A:
				if href != "" && !strings.HasPrefix(href, "#") {
					sb.WriteString(" (" + href + ")")
				}
				href = ""
			default:
				if blockElements[token.DataAtom] {
					sb.WriteString("\n\n")
				}
			}
		}
	}

	lines := strings.Split(sb.String(), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	text := strings.Join(lines, "\n")
	text = extraNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
