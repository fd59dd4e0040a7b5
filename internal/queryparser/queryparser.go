// Package queryparser parses the `db.<collection>.<op>(...)` query
// surface into a structured Statement the executor can run, and splits a
// `;`-separated batch string into its individual statements. It is
// deliberately permissive about the JSON its callers write inline:
// single-quoted strings, unquoted object keys, and trailing commas are
// all normalized to strict JSON before being handed to encoding/json.
package queryparser

import (
	"encoding/json"
	"regexp"
	"strings"

	coreerrors "github.com/corvusdb/corvus/internal/errors"
)

// Statement is one parsed `db.<collection>.<op>(...)` call.
type Statement struct {
	Collection string
	Operation  string
	Raw        string

	// Filter is populated for find/update/delete.
	Filter map[string]interface{}
	// Update is populated for update ($set document).
	Update map[string]interface{}
	// Document is populated for insert.
	Document map[string]interface{}
	// Documents is populated for insert_many.
	Documents []map[string]interface{}
	// Field is populated for create_index/drop_index.
	Field string
	// Name is populated for create_database/delete_database.
	Name string
}

var callPattern = regexp.MustCompile(`(?s)^db\.([A-Za-z0-9_]+)\.([A-Za-z0-9_]+)\((.*)\)$`)

// canonicalOperation maps the camelCase method names of the query
// surface (insertMany, createCollection, createIndex, dropIndex) onto
// the snake_case operation keys the executor switches on.
// Already-snake_case names (and find/insert/update/delete, which need no
// translation) pass through unchanged.
func canonicalOperation(method string) string {
	switch method {
	case "insertMany":
		return "insert_many"
	case "createCollection":
		return "create_collection"
	case "createIndex":
		return "create_index"
	case "dropIndex":
		return "drop_index"
	case "createDatabase":
		return "create_database"
	case "deleteDatabase":
		return "delete_database"
	default:
		return method
	}
}

var updateSplitPattern = regexp.MustCompile(`(?s)^\s*(\{.*?\})\s*,\s*(\{.*\})\s*$`)

// SplitBatch splits a `;`-separated batch query string into its
// individual non-empty statements, trimmed of surrounding whitespace.
func SplitBatch(batch string) []string {
	parts := strings.Split(batch, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Parse parses a single `db.<collection>.<op>(...)` statement.
func Parse(query string) (*Statement, error) {
	normalized := strings.TrimSpace(query)
	normalized = strings.ReplaceAll(normalized, "\n", " ")
	normalized = strings.ReplaceAll(normalized, "\t", " ")

	m := callPattern.FindStringSubmatch(normalized)
	if m == nil {
		return nil, coreerrors.New(coreerrors.KindParseError, "query does not match db.<collection>.<operation>(...) shape: "+query)
	}

	stmt := &Statement{
		Collection: m[1],
		Operation:  canonicalOperation(m[2]),
		Raw:        query,
	}
	params := strings.TrimSpace(m[3])

	switch stmt.Operation {
	case "find", "delete":
		filter, err := parseObject(params)
		if err != nil {
			return nil, err
		}
		stmt.Filter = filter

	case "insert":
		doc, err := parseObject(params)
		if err != nil {
			return nil, err
		}
		stmt.Document = doc

	case "insert_many":
		docs, err := parseArray(params)
		if err != nil {
			return nil, err
		}
		stmt.Documents = docs

	case "update":
		sub := updateSplitPattern.FindStringSubmatch(params)
		if sub == nil {
			return nil, coreerrors.New(coreerrors.KindParseError, "update requires {query}, {update}: "+query)
		}
		filter, err := parseObject(sub[1])
		if err != nil {
			return nil, err
		}
		update, err := parseObject(sub[2])
		if err != nil {
			return nil, err
		}
		stmt.Filter = filter
		stmt.Update = update

	case "create_index", "drop_index":
		field, err := parseBareStringOrField(params)
		if err != nil {
			return nil, err
		}
		stmt.Field = field

	case "create_collection":
		// no params required

	case "create_database", "delete_database":
		name, err := parseBareStringOrField(params)
		if err != nil {
			return nil, err
		}
		stmt.Name = name

	default:
		return nil, coreerrors.New(coreerrors.KindParseError, "unsupported operation: "+stmt.Operation)
	}

	return stmt, nil
}

// parseBareStringOrField accepts a bare/quoted string ("email" or
// 'email'), a {field: "email"} object, or the createIndex key-spec shape
// {email: 1}, where the single key names the field to index.
func parseBareStringOrField(params string) (string, error) {
	trimmed := strings.TrimSpace(params)
	if trimmed == "" {
		return "", coreerrors.New(coreerrors.KindParseError, "missing argument")
	}
	if strings.HasPrefix(trimmed, "{") {
		obj, err := parseObject(trimmed)
		if err != nil {
			return "", err
		}
		if field, ok := obj["field"].(string); ok {
			return field, nil
		}
		if name, ok := obj["name"].(string); ok {
			return name, nil
		}
		if len(obj) == 1 {
			for key := range obj {
				return key, nil
			}
		}
		return "", coreerrors.New(coreerrors.KindParseError, "expected a field or name key")
	}
	unquoted := strings.Trim(trimmed, `'"`)
	return unquoted, nil
}

func parseObject(s string) (map[string]interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "{}" {
		return map[string]interface{}{}, nil
	}
	normalized, err := Normalize(s)
	if err != nil {
		return nil, err
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(normalized), &obj); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindParseError, "invalid JSON object: "+s, err)
	}
	return obj, nil
}

func parseArray(s string) ([]map[string]interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return nil, nil
	}
	normalized, err := Normalize(s)
	if err != nil {
		return nil, err
	}
	var arr []map[string]interface{}
	if err := json.Unmarshal([]byte(normalized), &arr); err != nil {
		return nil, coreerrors.Wrap(coreerrors.KindParseError, "invalid JSON array: "+s, err)
	}
	return arr, nil
}
