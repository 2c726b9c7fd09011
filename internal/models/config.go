package models

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed config.schema.json
var configSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("config.schema.json", configSchema)
	})
	return compiledSchema, schemaErr
}

// LoadConfig reads a JSON or YAML config file. YAML documents are converted
// to JSON so both formats share the same tags and schema.
func LoadConfig(filename string) (Config, error) {
	if filename == "" {
		filename = "./config.json"
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, errors.Wrapf(err, "unable to read config file %s", filename)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return Config{}, err
		}
	}
	return ParseConfig(data)
}

// ParseConfig validates a JSON document against the embedded schema and decodes it.
func ParseConfig(data []byte) (Config, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Config{}, errors.Wrap(err, "invalid config file provided")
	}
	schema, err := loadSchema()
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to compile config schema")
	}
	if err := schema.Validate(doc); err != nil {
		return Config{}, errors.Wrap(err, "config does not match schema")
	}
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(err, "unable to decode config")
	}
	return config, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "invalid yaml config")
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert yaml config")
	}
	return out, nil
}
