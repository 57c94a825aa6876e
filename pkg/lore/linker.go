package lore

import (
	"sort"
	"strings"
)

// ComputeLinks scans a record's textual fields for mentions of other known
// titles. Field values are split into phrases on sentence boundaries to keep
// a title from matching across unrelated sentences. Each candidate title is
// tested for exact substring containment first, then case-insensitively.
//
// This is a cheap heuristic, not entity linking: short or common titles will
// over-match. The policy favors recall and leaves pruning to the user.
func ComputeLinks(fields Fields, selfTitle string, titles []string) []string {
	phrases := splitPhrases(fields.StringValues())
	if len(phrases) == 0 {
		return nil
	}

	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}

	seen := make(map[string]struct{})
	var links []string
	for _, title := range titles {
		if title == "" || title == selfTitle {
			continue
		}
		if _, dup := seen[title]; dup {
			continue
		}
		if matchesTitle(title, phrases, lowered) {
			seen[title] = struct{}{}
			links = append(links, title)
		}
	}

	sort.Strings(links)
	return links
}

func matchesTitle(title string, phrases, lowered []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(phrase, title) {
			return true
		}
	}
	loweredTitle := strings.ToLower(title)
	for _, phrase := range lowered {
		if strings.Contains(phrase, loweredTitle) {
			return true
		}
	}
	return false
}

func splitPhrases(values []string) []string {
	var phrases []string
	for _, value := range values {
		for _, part := range strings.Split(value, ".") {
			part = strings.TrimSpace(part)
			if part != "" {
				phrases = append(phrases, part)
			}
		}
	}
	return phrases
}
