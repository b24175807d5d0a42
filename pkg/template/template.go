// Package template performs {{field}} substitution for personalised messages.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing personalisation fields: %s", strings.Join(e.Fields, ", "))
}

// Fields lists the distinct placeholder names in text, in order of first use.
func Fields(text string) []string {
	seen := map[string]bool{}
	names := []string{}
	for _, match := range placeholder.FindAllStringSubmatch(text, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}

// Render replaces every placeholder in text with its value. If any placeholder
// has no value the text is not rendered and a *MissingFieldsError is returned.
func Render(text string, fields map[string]string) (string, error) {
	missing := map[string]bool{}
	out := placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		value, ok := fields[name]
		if !ok {
			missing[name] = true
			return m
		}
		return value
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return "", &MissingFieldsError{Fields: names}
	}
	return out, nil
}
