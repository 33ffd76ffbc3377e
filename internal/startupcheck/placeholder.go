package startupcheck

import (
	"regexp"
	"strings"
)

// Templates mark personalisation slots as ((fieldName)). Whitespace inside
// the marker is tolerated because template editors routinely add it.
var placeholderPattern = regexp.MustCompile(`\(\(\s*([a-zA-Z0-9_]+)\s*\)\)`)

// ExtractPlaceholders returns the distinct placeholder names in a template
// body, in order of first appearance.
func ExtractPlaceholders(body string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(body, -1)

	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	return names
}

// Render substitutes payload values into a template body. Markers whose
// name is not in the payload are left untouched so callers can detect them.
func Render(body string, payload map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(body, func(marker string) string {
		name := strings.TrimSpace(strings.Trim(marker, "()"))
		if value, ok := payload[name]; ok {
			return value
		}
		return marker
	})
}
