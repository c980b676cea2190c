package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// postSchema describes a post document as stored at posts/{id}. Legacy
// documents may omit likes, ratings, comments and timestamps.
const postSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "content", "authorId"],
  "properties": {
    "title":     {"type": "string"},
    "content":   {"type": "string"},
    "authorId":  {"type": "string"},
    "createdAt": {"type": "string", "format": "date-time"},
    "updatedAt": {"type": ["string", "null"], "format": "date-time"},
    "likes":     {"type": "integer", "minimum": 0},
    "ratings": {
      "type": "array",
      "items": {"type": "integer", "minimum": 1, "maximum": 5}
    },
    "comments": {
      "type": "array",
      "items": {"$ref": "#/definitions/comment"}
    }
  },
  "definitions": {
    "comment": {
      "type": "object",
      "required": ["id", "text"],
      "properties": {
        "id":        {"type": "string", "minLength": 1},
        "text":      {"type": "string"},
        "authorId":  {"type": "string"},
        "createdAt": {"type": "string", "format": "date-time"},
        "likes":     {"type": "integer", "minimum": 0},
        "dislikes":  {"type": "integer", "minimum": 0},
        "replies": {
          "type": "array",
          "items": {"$ref": "#/definitions/comment"}
        }
      }
    }
  }
}`

var compiledPostSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(postSchema))
})

// SchemaError lists the violations of a malformed post document
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("post document does not match schema: %s", strings.Join(e.Violations, "; "))
}

// validateDocument checks raw against the post schema
func validateDocument(raw json.RawMessage) error {
	schema, err := compiledPostSchema()
	if err != nil {
		return fmt.Errorf("failed to compile post schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to validate post document: %w", err)
	}
	if !result.Valid() {
		var violations []string
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}
		return &SchemaError{Violations: violations}
	}
	return nil
}
