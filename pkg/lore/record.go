package lore

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TagsField is the conventional name of the list-valued tags field inside a
// structured field set. It is excluded from content flattening and from
// cross-reference scanning.
const TagsField = "Tags"

// Record is the unit of persistence: one world-building entry with its
// structured fields, flattened content, tags, embedding, and the titles of
// other entries its text appears to mention.
type Record struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	Template      string    `json:"template,omitempty"`
	Fields        Fields    `json:"fields,omitempty"`
	Embedding     []float32 `json:"-"`
	LinkedEntries []string  `json:"linked_entries,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// Fields maps field names to their content. Values are strings, or string
// lists for tag-like fields. Templates stay open-ended: no schema registry
// constrains which keys appear.
type Fields map[string]any

// Flatten derives the embedding input from a field set: one "name: value"
// line per non-blank field in name order, excluding the Tags field. Returns
// an empty string when every field is blank; callers fall back to the title.
func (f Fields) Flatten() string {
	names := make([]string, 0, len(f))
	for name := range f {
		if name == TagsField {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		value := fieldText(f[name])
		if strings.TrimSpace(value) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", name, value)
	}
	return b.String()
}

// StringValues returns the string-valued fields excluding Tags, the input to
// cross-reference scanning.
func (f Fields) StringValues() []string {
	var values []string
	for name, raw := range f {
		if name == TagsField {
			continue
		}
		if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
			values = append(values, s)
		}
	}
	sort.Strings(values)
	return values
}

// TagList extracts the Tags field as a string slice, tolerating both []string
// and the []any shape JSON decoding produces.
func (f Fields) TagList() []string {
	return toStringList(f[TagsField])
}

// fieldText renders a field value for flattening. Lists are joined with
// commas; anything else stringifies through fmt.
func fieldText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case []any:
		return strings.Join(toStringList(v), ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toStringList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				list = append(list, s)
			}
		}
		return list
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
