package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

const filterWordsSchemaDefinition = `{
	"type": "object",
	"properties": {
		"filter_words": {
			"type": "array",
			"items": { "type": "string" }
		}
	},
	"required": ["filter_words"]
}`

const vocabularySchemaDefinition = `{
	"type": "object",
	"properties": {
		"custom_vocabulary": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"items": { "type": "string" }
			}
		}
	},
	"required": ["custom_vocabulary"]
}`

var blobSchemas map[string]string = map[string]string{
	"FilterWords": filterWordsSchemaDefinition,
	"Vocabulary":  vocabularySchemaDefinition,
}

func compileBlobSchemas() map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, 0)
	for name, text := range blobSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
		if err != nil {
			// raise panic on program start
			panic(err) // fix schema text
		}
		compiled[name] = schema
	}
	return compiled
}

// Run compile step on program start:
var blobSchemasCompiled map[string]*gojsonschema.Schema = compileBlobSchemas()

type filterWordsBlob struct {
	FilterWords []string `json:"filter_words"`
}

type vocabularyBlob struct {
	CustomVocabulary map[string][]string `json:"custom_vocabulary"`
}

func loadBlob(path, schemaName string, dest interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading %s blob: %w", schemaName, err)
	}
	// accept either YAML or JSON on disk
	jsonBytes, err := yaml.YAMLToJSON(raw)
	if err != nil {
		return fmt.Errorf("error converting %s blob to JSON: %w", schemaName, err)
	}
	result, err := blobSchemasCompiled[schemaName].Validate(gojsonschema.NewBytesLoader(jsonBytes))
	if err != nil {
		return fmt.Errorf("error validating %s blob: %w", schemaName, err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid %s blob: %v", schemaName, result.Errors())
	}
	return json.Unmarshal(jsonBytes, dest)
}

// LoadFilterWords reads the filter-word blob and returns the lower-cased word
// list. A cue containing any of these words as a substring is dropped before
// rendering or dispatch. An empty path yields an empty list.
func LoadFilterWords(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	var blob filterWordsBlob
	if err := loadBlob(path, "FilterWords", &blob); err != nil {
		return nil, err
	}
	words := make([]string, 0, len(blob.FilterWords))
	for _, w := range blob.FilterWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			words = append(words, w)
		}
	}
	return words, nil
}

// LoadVocabulary reads the per-language custom vocabulary blob, used to build
// the transcription initial prompt. An empty path yields an empty map.
func LoadVocabulary(path string) (map[string][]string, error) {
	if path == "" {
		return map[string][]string{}, nil
	}
	var blob vocabularyBlob
	if err := loadBlob(path, "Vocabulary", &blob); err != nil {
		return nil, err
	}
	if blob.CustomVocabulary == nil {
		blob.CustomVocabulary = map[string][]string{}
	}
	return blob.CustomVocabulary, nil
}
