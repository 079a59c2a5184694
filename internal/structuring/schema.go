package structuring

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// MaxMarks bounds every marks value accepted from a model or an editor.
// The schemas below carry the same limit.
const MaxMarks = 1000

const questionsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["questions"],
  "properties": {
    "questions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["questionNumber", "fullText"],
        "properties": {
          "questionNumber": {"type": "string", "minLength": 1},
          "fullText": {"type": "string"},
          "marks": {"type": ["integer", "null"], "minimum": 0, "maximum": 1000},
          "subparts": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["label", "text"],
              "properties": {
                "label": {"type": "string"},
                "text": {"type": "string"},
                "marks": {"type": ["integer", "null"], "minimum": 0, "maximum": 1000}
              }
            }
          },
          "hasImage": {"type": "boolean"},
          "imageDescription": {"type": ["string", "null"]},
          "detectedTopicsHint": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

const answersSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["answers"],
  "properties": {
    "answers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["questionNumber", "subparts"],
        "properties": {
          "questionNumber": {"type": "string", "minLength": 1},
          "subparts": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["label", "answerText", "marks"],
              "properties": {
                "label": {"type": "string"},
                "answerText": {"type": "string"},
                "marks": {"type": "integer", "minimum": 0, "maximum": 1000},
                "notes": {"type": "array", "items": {"type": "string"}}
              }
            }
          }
        }
      }
    }
  }
}`

var (
	questionsValidator = mustValidator("questions", questionsSchemaJSON)
	answersValidator   = mustValidator("answers", answersSchemaJSON)
)

// Validator checks model output against a JSON Schema before decoding it.
type Validator struct {
	kind   string
	schema *gojsonschema.Schema
}

// NewValidator compiles schemaJSON. Kind names the document in errors.
func NewValidator(kind, schemaJSON string) (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", kind, err)
	}
	return &Validator{kind: kind, schema: s}, nil
}

func mustValidator(kind, schemaJSON string) *Validator {
	v, err := NewValidator(kind, schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}

// SchemaError reports a model response that is not valid JSON or does not
// match the expected shape.
type SchemaError struct {
	Kind     string   // e.g. "questions" or "answers"
	Problems []string // one entry per schema violation
	Err      error    // JSON syntax error, if any
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("structured %s: invalid JSON: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("structured %s: schema mismatch: %s", e.Kind, strings.Join(e.Problems, "; "))
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Decode validates raw model output and decodes it into out. Code fences
// and any prose around the JSON object are ignored.
func (v *Validator) Decode(raw string, out any) error {
	cleaned := cleanJSON(raw)
	if !json.Valid([]byte(cleaned)) {
		var doc any
		err := json.Unmarshal([]byte(cleaned), &doc)
		if err == nil {
			err = fmt.Errorf("not a JSON document")
		}
		return &SchemaError{Kind: v.kind, Err: err}
	}

	result, err := v.schema.Validate(gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return &SchemaError{Kind: v.kind, Err: err}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return &SchemaError{Kind: v.kind, Problems: problems}
	}

	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return &SchemaError{Kind: v.kind, Err: err}
	}
	return nil
}

// cleanJSON strips markdown code fences and any text outside the outermost
// JSON object.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimSpace(s)
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
