package readability

import (
	"encoding/json"
	"strings"
)

type ldFields struct {
	headline    string
	author      string
	description string
	published   string
}

// parseJSONLD pulls article fields out of a JSON-LD block. Blocks may hold
// a single object, an array, or an @graph wrapper; anything unreadable is
// ignored.
func parseJSONLD(raw string) ldFields {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return ldFields{}
	}
	var fields ldFields
	scanLDValue(decoded, &fields)
	return fields
}

func scanLDValue(value any, fields *ldFields) {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			scanLDValue(item, fields)
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			scanLDValue(graph, fields)
		}
		if fields.headline == "" {
			fields.headline = ldString(v["headline"])
		}
		if fields.author == "" {
			fields.author = ldAuthor(v["author"])
		}
		if fields.description == "" {
			fields.description = ldString(v["description"])
		}
		if fields.published == "" {
			fields.published = ldString(v["datePublished"])
		}
	}
}

func ldAuthor(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		return ldString(v["name"])
	case []any:
		for _, item := range v {
			if name := ldAuthor(item); name != "" {
				return name
			}
		}
	}
	return ""
}

func ldString(value any) string {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func mergeLDFields(dst *ldFields, src ldFields) {
	if dst.headline == "" {
		dst.headline = src.headline
	}
	if dst.author == "" {
		dst.author = src.author
	}
	if dst.description == "" {
		dst.description = src.description
	}
	if dst.published == "" {
		dst.published = src.published
	}
}
