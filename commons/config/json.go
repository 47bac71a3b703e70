package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// LoadJSONFile reads a JSON file into the provided struct pointer.
func LoadJSONFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return DecodeJSON(data, out)
}

// DecodeJSON unmarshals JSON data into the provided struct pointer.
// Unknown keys are rejected so a misspelt option does not silently fall back
// to its default.
func DecodeJSON(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}
