package linkedin

import (
	"strings"
	"unicode/utf8"

	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/model"
	"uk.co.dudmesh.herald/pkg/htmltext"
)

const MaxPostLength = 3000

const ellipsis = "..."

func hashtagSuffix(hashtags []string) string {
	sb := strings.Builder{}
	for _, tag := range hashtags {
		tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		if tag == "" {
			continue
		}
		sb.WriteString(" #")
		sb.WriteString(strings.ReplaceAll(tag, " ", ""))
	}
	return sb.String()
}

// Format prepares the post commentary: HTML is reduced to plain text and the
// hashtags are appended. Posts over MaxPostLength code points are rejected, or
// shortened with an ellipsis when the policy is truncate.
func Format(content string, hashtags []string, policy string) (string, error) {
	if htmltext.IsHTML(content) {
		content = htmltext.ToText(content)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", model.Validationf("linkedin post is empty")
	}

	tags := hashtagSuffix(hashtags)
	post := content + tags
	length := utf8.RuneCountInString(post)
	if length <= MaxPostLength {
		return post, nil
	}

	if policy != boot.OverflowTruncate {
		return "", model.Validationf("linkedin post is %d characters, the limit is %d", length, MaxPostLength)
	}

	available := MaxPostLength - utf8.RuneCountInString(tags) - utf8.RuneCountInString(ellipsis)
	if available <= 0 {
		return "", model.Validationf("linkedin hashtags alone exceed the %d character limit", MaxPostLength)
	}
	runes := []rune(content)
	return string(runes[:available]) + ellipsis + tags, nil
}
