package analysis

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ParseResult decodes the final workflow output. A missing or null output is
// an empty list. Strings are searched for a fenced json block, or stripped of
// backticks and a leading json tag, and decoded; when that fails the raw
// string is returned.
func ParseResult(raw json.RawMessage) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []any{}
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return string(trimmed)
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	return parseMarkdownJSON(s)
}

func parseMarkdownJSON(text string) any {
	var clean string
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		clean = m[1]
	} else {
		clean = strings.Trim(strings.TrimSpace(text), "`")
		clean = strings.TrimPrefix(clean, "json")
	}

	var v any
	if err := json.Unmarshal([]byte(clean), &v); err != nil {
		return text
	}
	return v
}

// Text renders an analysis result for reports: strings verbatim, anything
// else as indented JSON.
func Text(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}
