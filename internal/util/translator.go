package util

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Walk recursively collects the dot-notation paths of every field named
// field in a JSON document, in document order.
func Walk(value gjson.Result, path, field string, paths *[]string) {
	if value.Type != gjson.JSON {
		return
	}
	value.ForEach(func(key, val gjson.Result) bool {
		childPath := key.String()
		if path != "" {
			childPath = path + "." + childPath
		}
		if key.String() == field {
			*paths = append(*paths, childPath)
		}
		Walk(val, childPath, field, paths)
		return true
	})
}

// RenameKey moves the value at oldKeyPath to newKeyPath. It fails when the
// old path does not exist in the document.
func RenameKey(jsonStr, oldKeyPath, newKeyPath string) (string, error) {
	value := gjson.Get(jsonStr, oldKeyPath)
	if !value.Exists() {
		return "", fmt.Errorf("key %q does not exist", oldKeyPath)
	}
	out, err := sjson.SetRaw(jsonStr, newKeyPath, value.Raw)
	if err != nil {
		return "", fmt.Errorf("failed to set key %q: %w", newKeyPath, err)
	}
	out, err = sjson.Delete(out, oldKeyPath)
	if err != nil {
		return "", fmt.Errorf("failed to delete key %q: %w", oldKeyPath, err)
	}
	return out, nil
}

// geminiUnsupportedSchemaFields are the JSON Schema constructs Gemini
// function declarations reject with a proto decoding error.
var geminiUnsupportedSchemaFields = []string{
	"$schema",
	"additionalProperties",
	"allOf",
	"anyOf",
	"oneOf",
	"exclusiveMinimum",
	"exclusiveMaximum",
	"patternProperties",
	"dependencies",
}

// SanitizeSchemaForGemini strips unsupported JSON Schema constructs from a
// tool parameter schema at every nesting level and collapses union type
// arrays such as ["string","null"] to a single type.
func SanitizeSchemaForGemini(schemaJSON string) string {
	out := schemaJSON
	for _, field := range geminiUnsupportedSchemaFields {
		var paths []string
		Walk(gjson.Parse(out), "", field, &paths)
		// Deepest-first so removing an ancestor never orphans a pending path.
		for i := len(paths) - 1; i >= 0; i-- {
			if cleaned, err := sjson.Delete(out, paths[i]); err == nil {
				out = cleaned
			}
		}
	}

	var typePaths []string
	Walk(gjson.Parse(out), "", "type", &typePaths)
	for _, path := range typePaths {
		union := gjson.Get(out, path)
		if !union.IsArray() {
			continue
		}
		if picked := collapseTypeUnion(union.Array()); picked != "" {
			out, _ = sjson.Set(out, path, picked)
		}
	}
	return out
}

// collapseTypeUnion picks one type from a schema union: string wins, then
// the last numeric type, then the first entry.
func collapseTypeUnion(types []gjson.Result) string {
	picked := ""
	for _, t := range types {
		switch s := t.String(); s {
		case "string":
			return "string"
		case "number", "integer":
			picked = s
		default:
			if picked == "" {
				picked = s
			}
		}
	}
	return picked
}
