package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// defaultConfig holds table dimensions applied when neither a flag nor the
// on-disk header supplies them — used only on `new`, since an existing file
// always carries its own key_maxlen/object_datalen.
type defaultConfig struct {
	KeyMaxLen     uint64 `json:"key_maxlen,omitempty"`
	ObjectDataLen uint64 `json:"object_datalen,omitempty"`
}

// loadConfig reads a JSONC (JSON-with-comments) config file, if one is
// present at path. A missing file is not an error: it simply yields a zero
// defaultConfig, so `new` falls through to its flags/prompts.
func loadConfig(path string) (defaultConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig{}, nil
		}

		return defaultConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return defaultConfig{}, fmt.Errorf("invalid JSONC in %s: %w", path, err)
	}

	var cfg defaultConfig
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return defaultConfig{}, fmt.Errorf("invalid JSON in %s: %w", path, err)
	}

	return cfg, nil
}
