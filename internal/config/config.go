// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package config loads raw metaplan options from JSONC or YAML files.
// The result is passed unchanged to metaplan.Resolve, which does all the
// interpretation; this package only deals with the file formats.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format is a config file format.
type Format int

const (
	// FormatJSON is JSON extended with comments and trailing commas.
	FormatJSON Format = iota
	// FormatYAML is YAML.
	FormatYAML
)

// FormatFromPath returns the Format for the extension of filename.
func FormatFromPath(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".jsonc":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("unsupported config format %q", filepath.Ext(filename))
	}
}

// Load reads and parses the config file at filename.
func Load(filename string) (any, error) {
	format, err := FormatFromPath(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	v, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return v, nil
}

// Parse parses data into either a bool (the blanket shorthand),
// a map[string]any or nil for an empty document.
// Other top level values are returned as is and resolve to the defaults.
func Parse(data []byte, format Format) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var v any
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %d", format)
	}

	return normalize(v), nil
}

// normalize converts the map[any]any values that YAML may produce for
// non string keys into map[string]any.
func normalize(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		for k, e := range vv {
			vv[k] = normalize(e)
		}
		return vv
	case map[any]any:
		m := make(map[string]any, len(vv))
		for k, e := range vv {
			m[fmt.Sprint(k)] = normalize(e)
		}
		return m
	case []any:
		for i, e := range vv {
			vv[i] = normalize(e)
		}
		return vv
	default:
		return v
	}
}
