// Package template renders ${...} placeholders in response values and
// set-slot expressions. ${RESPONSE} denotes the raw upstream response,
// ${RESPONSE.path.to.field} a JSON path projection, ${params.key} a resolved
// parameter. Missing paths resolve to the empty string.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{([^}]*)\}`)

// Render substitutes every ${...} placeholder from the data roots.
func Render(tmpl string, data map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-1])
		if path == "" {
			return ""
		}
		v, ok := Project(data, path)
		if !ok || v == nil {
			return ""
		}
		return Stringify(v)
	})
}

// Stringify renders a projected value for interpolation: strings pass
// through, scalars format naturally, composites render as compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Project walks a dotted path with optional [n] indices over nested
// maps and lists. Returns false when any segment is missing.
func Project(root any, path string) (any, bool) {
	current := root
	for _, seg := range splitPath(path) {
		switch s := seg.(type) {
		case string:
			m, ok := current.(map[string]any)
			if !ok {
				return nil, false
			}
			current, ok = m[s]
			if !ok {
				return nil, false
			}
		case int:
			list, ok := current.([]any)
			if !ok || s < 0 || s >= len(list) {
				return nil, false
			}
			current = list[s]
		}
	}
	return current, true
}

// splitPath tokenizes "a.b[0].c" into ["a", "b", 0, "c"].
func splitPath(path string) []any {
	var segs []any
	for _, part := range strings.Split(path, ".") {
		for {
			open := strings.IndexByte(part, '[')
			if open < 0 {
				if part != "" {
					segs = append(segs, part)
				}
				break
			}
			if open > 0 {
				segs = append(segs, part[:open])
			}
			closeIdx := strings.IndexByte(part, ']')
			if closeIdx < open {
				// Malformed index: treat the remainder as a literal key.
				segs = append(segs, part[open:])
				break
			}
			idx, err := strconv.Atoi(part[open+1 : closeIdx])
			if err != nil {
				segs = append(segs, part[open:closeIdx+1])
			} else {
				segs = append(segs, idx)
			}
			part = part[closeIdx+1:]
		}
	}
	return segs
}
