package email

import (
	"errors"
	"fmt"
	"html"
	"html/template"
	"io"
	"strings"

	"gopkg.in/gomail.v2"
	"uk.co.dudmesh.herald/internal/media"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/internal/newsletter"
	"uk.co.dudmesh.herald/pkg/htmltext"
	tmpl "uk.co.dudmesh.herald/pkg/template"
)

const headerCID = "header"

type inlineImage struct {
	cid   string
	asset *media.Asset
}

// composition is the part of a message shared by every recipient of a send.
type composition struct {
	subject        string
	body           string
	preheader      string
	footer         string
	unsubscribeURL string
	header         *media.Asset
	images         []inlineImage
	attachments    []*media.Asset
	replyTo        string
	cc             []string
	bcc            []string
}

// personalise renders the composition for one recipient. Field values are
// escaped where they land in HTML.
func (c *composition) personalise(layout *newsletter.Layout, recipient model.Recipient) (subject, htmlBody, textBody string, err error) {
	fields := map[string]string{}
	for k, v := range recipient.Fields {
		fields[k] = v
	}
	fields["email"] = recipient.Email

	escaped := make(map[string]string, len(fields))
	for k, v := range fields {
		escaped[k] = html.EscapeString(v)
	}

	missing := map[string]bool{}
	render := func(text string, values map[string]string) string {
		out, err := tmpl.Render(text, values)
		var mf *tmpl.MissingFieldsError
		if errors.As(err, &mf) {
			for _, f := range mf.Fields {
				missing[f] = true
			}
		}
		return out
	}

	subject = render(c.subject, fields)
	content := render(c.body, escaped)
	preheader := render(c.preheader, fields)
	footer := render(c.footer, fields)
	unsubscribe := render(c.unsubscribeURL, fields)

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for _, f := range tmpl.Fields(c.subject + c.body + c.preheader + c.footer + c.unsubscribeURL) {
			if missing[f] {
				names = append(names, f)
			}
		}
		return "", "", "", model.Validationf("missing personalisation fields: %s", strings.Join(names, ", "))
	}

	page := newsletter.Page{
		Title:          subject,
		Preheader:      preheader,
		Content:        template.HTML(content),
		Footer:         footer,
		UnsubscribeURL: unsubscribe,
	}
	if c.header != nil {
		page.HeaderImageCID = headerCID
	}

	htmlBody, err = layout.Render(page)
	if err != nil {
		return "", "", "", fmt.Errorf("rendering layout: %w", err)
	}
	return subject, htmlBody, htmltext.ToText(htmlBody), nil
}

func (c *composition) message(from, fromName, to, subject, htmlBody, textBody string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", from, fromName)
	m.SetHeader("To", to)
	if len(c.cc) > 0 {
		m.SetHeader("Cc", c.cc...)
	}
	if len(c.bcc) > 0 {
		m.SetHeader("Bcc", c.bcc...)
	}
	if c.replyTo != "" {
		m.SetHeader("Reply-To", c.replyTo)
	}
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)

	if c.header != nil {
		embed(m, headerCID, c.header)
	}
	for _, image := range c.images {
		embed(m, image.cid, image.asset)
	}
	for _, asset := range c.attachments {
		m.Attach(asset.Name, copyFrom(asset), gomail.SetHeader(map[string][]string{
			"Content-Type": {asset.ContentType},
		}))
	}
	return m
}

// recipients lists every envelope address of a message sent to one recipient.
func (c *composition) recipients(to string) []string {
	all := make([]string, 0, 1+len(c.cc)+len(c.bcc))
	all = append(all, to)
	all = append(all, c.cc...)
	all = append(all, c.bcc...)
	return all
}

func embed(m *gomail.Message, cid string, asset *media.Asset) {
	m.Embed(asset.Name, copyFrom(asset), gomail.SetHeader(map[string][]string{
		"Content-ID":   {"<" + cid + ">"},
		"Content-Type": {asset.ContentType},
	}))
}

func copyFrom(asset *media.Asset) gomail.FileSetting {
	return gomail.SetCopyFunc(func(w io.Writer) error {
		_, err := w.Write(asset.Data)
		return err
	})
}

func inlineTags(images []inlineImage) string {
	sb := strings.Builder{}
	for _, image := range images {
		sb.WriteString(fmt.Sprintf(`<p><img src="cid:%s" alt="%s" /></p>`, image.cid, html.EscapeString(image.asset.Name)))
		sb.WriteString("\n")
	}
	return sb.String()
}
