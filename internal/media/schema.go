package media

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	recordSchemaURL  = "deletion-record.json"
	trackerSchemaURL = "download-tracker.json"
)

const recordSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "conversationId", "timestamp", "deleted", "deletedScope"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "conversationId": {"type": "string", "minLength": 1},
    "senderId": {"type": "string"},
    "fromMe": {"type": "boolean"},
    "timestamp": {"type": "integer"},
    "body": {"type": ["string", "null"]},
    "media": {
      "type": ["object", "null"],
      "required": ["mimeType", "path"],
      "properties": {
        "mimeType": {"type": "string"},
        "path": {"type": "string"}
      }
    },
    "deleted": {"const": true},
    "deletedScope": {"enum": ["me", "everyone"]},
    "deletedAt": {"type": "integer"}
  }
}`

const trackerSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["isCompleted", "totalMessagesDownloaded", "lastRunDate"],
  "properties": {
    "isCompleted": {"type": "boolean"},
    "completedAt": {"type": ["string", "null"]},
    "totalMessagesDownloaded": {"type": "integer", "minimum": 0},
    "processedChats": {
      "type": ["array", "null"],
      "items": {"type": "string"}
    },
    "lastRunDate": {"type": "string", "pattern": "^([0-9]{4}-[0-9]{2}-[0-9]{2})?$"}
  }
}`

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		sources := map[string]string{
			recordSchemaURL:  recordSchema,
			trackerSchemaURL: trackerSchema,
		}
		c := jsonschema.NewCompiler()
		for url, src := range sources {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
			if err != nil {
				schemaErr = fmt.Errorf("parse %s: %w", url, err)
				return
			}
			if err := c.AddResource(url, doc); err != nil {
				schemaErr = fmt.Errorf("add %s: %w", url, err)
				return
			}
		}
		compiled := make(map[string]*jsonschema.Schema, len(sources))
		for url := range sources {
			sch, err := c.Compile(url)
			if err != nil {
				schemaErr = fmt.Errorf("compile %s: %w", url, err)
				return
			}
			compiled[url] = sch
		}
		schemas = compiled
	})
	return schemas, schemaErr
}

func validateAgainst(url string, data []byte) error {
	all, err := compileSchemas()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return all[url].Validate(inst)
}

func validateRecord(data []byte) error {
	return validateAgainst(recordSchemaURL, data)
}

// ValidateTracker checks a download_tracker.json document before it is
// trusted as the completion gate.
func ValidateTracker(data []byte) error {
	return validateAgainst(trackerSchemaURL, data)
}
