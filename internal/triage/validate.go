package triage

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/teemow/inboxtriage/internal/labels"
	"github.com/teemow/inboxtriage/internal/triageerr"
)

// classifierSchema accepts {"labels": [...]} or a bare array of strings.
// Anything else is rejected as a whole.
const classifierSchema = `{
  "$defs": {
    "labels": {"type": "array", "items": {"type": "string"}}
  },
  "anyOf": [
    {
      "type": "object",
      "required": ["labels"],
      "properties": {"labels": {"$ref": "#/$defs/labels"}}
    },
    {"$ref": "#/$defs/labels"}
  ]
}`

var classifierValidator = compileSchema("classifier.json", classifierSchema)

func compileSchema(name, schema string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// ValidateLabels checks classifier output and returns the AI labels it
// names, sorted and without duplicates. Output of the wrong shape is a
// *triageerr.ValidationError. Individual entries that are not AI label
// names are dropped.
func ValidateLabels(raw json.RawMessage) ([]string, error) {
	valid, _, err := validateLabels(raw)
	return valid, err
}

// validateLabels is ValidateLabels that also returns the dropped entries.
func validateLabels(raw json.RawMessage) (valid, stripped []string, err error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, &triageerr.ValidationError{Source: "classifier", Reason: "not JSON", Raw: raw}
	}
	if err := classifierValidator.Validate(inst); err != nil {
		return nil, nil, &triageerr.ValidationError{Source: "classifier", Reason: "unexpected shape", Raw: raw}
	}

	var entries []string
	if obj, ok := inst.(map[string]any); ok {
		inst = obj["labels"]
	}
	for _, v := range inst.([]any) {
		entries = append(entries, v.(string))
	}

	seen := map[string]bool{}
	valid = []string{}
	for _, e := range entries {
		name := strings.TrimSpace(e)
		if !isAILabel(name) {
			stripped = append(stripped, e)
			continue
		}
		if !seen[name] {
			seen[name] = true
			valid = append(valid, name)
		}
	}
	sort.Strings(valid)
	return valid, stripped, nil
}

func isAILabel(name string) bool {
	return strings.HasPrefix(name, labels.AIPrefix) && len(name) > len(labels.AIPrefix)
}
