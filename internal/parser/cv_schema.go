package parser

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// profileDocumentSchema 模型输出文档的形状约束，字段允许为 null
const profileDocumentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "definitions": {
    "nstring": {"type": ["string", "null"]},
    "strings": {"type": ["array", "null"], "items": {"type": ["string", "null"]}}
  },
  "properties": {
    "personal_information": {
      "type": ["object", "null"],
      "properties": {
        "name": {"$ref": "#/definitions/nstring"},
        "email": {"$ref": "#/definitions/nstring"},
        "phone": {"$ref": "#/definitions/nstring"},
        "location": {"$ref": "#/definitions/nstring"},
        "linkedin": {"$ref": "#/definitions/nstring"},
        "github": {"$ref": "#/definitions/nstring"},
        "website": {"$ref": "#/definitions/nstring"}
      }
    },
    "education": {"type": ["array", "null"], "items": {"type": "object"}},
    "work_experience": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {"highlights": {"$ref": "#/definitions/strings"}}
      }
    },
    "skills": {
      "anyOf": [
        {"type": "null"},
        {"type": "object", "additionalProperties": {"$ref": "#/definitions/strings"}},
        {"type": "array", "items": {"type": ["string", "object"]}}
      ]
    },
    "projects": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {"technologies": {"$ref": "#/definitions/strings"}}
      }
    },
    "certifications": {"type": ["array", "null"], "items": {"type": "object"}}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func profileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("profile.json", strings.NewReader(profileDocumentSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("profile.json")
	})
	return compiledSchema, schemaErr
}

// ValidateProfileDocument 校验模型输出的文档形状，只用于告警
func ValidateProfileDocument(doc map[string]any) error {
	schema, err := profileSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
