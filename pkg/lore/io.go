package lore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// NameField is the field conventionally holding a structured entry's title.
const NameField = "Name"

// exportEntry is the JSON export shape: one object per record, embeddings and
// storage ids omitted.
type exportEntry struct {
	Template      string   `json:"template"`
	Fields        Fields   `json:"fields"`
	LinkedEntries []string `json:"linked_entries"`
}

// ExportJSON writes every record as a JSON array of
// {template, fields, linked_entries} objects with Unicode left unescaped.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) error {
	records, err := s.All(ctx)
	if err != nil {
		return err
	}

	entries := make([]exportEntry, 0, len(records))
	for _, rec := range records {
		fields := rec.Fields
		if fields == nil {
			fields = Fields{}
		}
		links := rec.LinkedEntries
		if links == nil {
			links = []string{}
		}
		entries = append(entries, exportEntry{
			Template:      rec.Template,
			Fields:        fields,
			LinkedEntries: links,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return wrapError("export_json", err)
	}
	return nil
}

// ExportMarkdown writes every record as a markdown block: the template as
// heading, the Name field as a sub-heading line, one section per remaining
// field with list values joined by commas, a Linked Entries bullet list when
// non-empty, and a separator line. Records appear in store order.
func (s *Store) ExportMarkdown(ctx context.Context, w io.Writer) error {
	records, err := s.All(ctx)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if err := writeMarkdownRecord(w, rec); err != nil {
			return wrapError("export_markdown", err)
		}
	}
	return nil
}

func writeMarkdownRecord(w io.Writer, rec *Record) error {
	heading := rec.Template
	if heading == "" {
		heading = "Entry"
	}
	name := rec.Title
	if n, ok := rec.Fields[NameField].(string); ok && n != "" {
		name = n
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n**%s**\n\n", heading, name)

	names := make([]string, 0, len(rec.Fields))
	for fieldName := range rec.Fields {
		if fieldName == NameField {
			continue
		}
		names = append(names, fieldName)
	}
	sort.Strings(names)
	for _, fieldName := range names {
		value := fieldText(rec.Fields[fieldName])
		if strings.TrimSpace(value) == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n\n", fieldName, value)
	}

	if len(rec.LinkedEntries) > 0 {
		b.WriteString("### Linked Entries\n\n")
		for _, link := range rec.LinkedEntries {
			fmt.Fprintf(&b, "- %s\n", link)
		}
		b.WriteByte('\n')
	}
	b.WriteString("---\n\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// importEntry accepts both accepted import shapes: the flat
// {title, content, tags} form and the structured
// {template, fields: {Name, ..., Tags}, linked_entries?} form.
type importEntry struct {
	Title         string   `json:"title"`
	Content       string   `json:"content"`
	Tags          []string `json:"tags"`
	Template      string   `json:"template"`
	Fields        Fields   `json:"fields"`
	LinkedEntries []string `json:"linked_entries"`
}

// ImportResult reports what an import did.
type ImportResult struct {
	Imported int
	Skipped  []string // flat-form titles skipped because they already exist
}

// Import reads a single JSON object or an array of objects and creates a
// record per entry. Flat-form entries missing any of title, content, or tags
// are ignored, and flat-form titles already present are skipped and reported;
// structured entries go straight to Create, which applies the store's own
// duplicate policy.
func (s *Store) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapError("import", err)
	}

	entries, err := decodeImportEntries(data)
	if err != nil {
		return nil, wrapError("import", err)
	}

	existing, err := s.Titles(ctx)
	if err != nil {
		return nil, err
	}
	existingSet := make(map[string]struct{}, len(existing))
	for _, title := range existing {
		existingSet[title] = struct{}{}
	}

	result := &ImportResult{}
	for _, entry := range entries {
		if len(entry.Fields) > 0 {
			title, _ := entry.Fields[NameField].(string)
			if strings.TrimSpace(title) == "" {
				s.logger.Warn("skipping structured import entry without a Name field")
				continue
			}
			err := s.Create(ctx, CreateRequest{
				Title:         title,
				Fields:        entry.Fields,
				Tags:          entry.Fields.TagList(),
				Template:      entry.Template,
				LinkedEntries: entry.LinkedEntries,
			})
			if err != nil {
				return result, err
			}
			result.Imported++
			continue
		}

		if entry.Title == "" || entry.Content == "" || entry.Tags == nil {
			s.logger.Warn("skipping malformed flat import entry", "title", entry.Title)
			continue
		}
		if _, dup := existingSet[entry.Title]; dup {
			s.logger.Warn("skipping import of existing title", "title", entry.Title)
			result.Skipped = append(result.Skipped, entry.Title)
			continue
		}
		err := s.Create(ctx, CreateRequest{
			Title:   entry.Title,
			Content: entry.Content,
			Tags:    entry.Tags,
		})
		if err != nil {
			return result, err
		}
		existingSet[entry.Title] = struct{}{}
		result.Imported++
	}

	s.logger.Info("import finished", "imported", result.Imported, "skipped", len(result.Skipped))
	return result, nil
}

func decodeImportEntries(data []byte) ([]importEntry, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, fmt.Errorf("empty import payload")
	}

	if strings.HasPrefix(trimmed, "[") {
		var entries []importEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("invalid import JSON: %w", err)
		}
		return entries, nil
	}

	var entry importEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("invalid import JSON: %w", err)
	}
	return []importEntry{entry}, nil
}
