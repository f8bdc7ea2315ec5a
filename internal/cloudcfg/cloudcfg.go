// Package cloudcfg maps collection identifiers to the semantics of their
// cloud classification band.
package cloudcfg

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed collections.yaml
var defaultTable []byte

// CloudConfig describes how to read one collection's classification band.
type CloudConfig struct {
	NonCloudValues []int   `yaml:"non_cloud_values"`
	NoDataValue    float64 `yaml:"no_data_value"`
	CloudBand      string  `yaml:"cloud_band"`
}

// IsClear reports whether a classification code means "not cloud".
func (c CloudConfig) IsClear(code float64) bool {
	if code != float64(int(code)) {
		return false
	}
	return slices.Contains(c.NonCloudValues, int(code))
}

// Registry resolves a collection identifier to its CloudConfig.
type Registry interface {
	Lookup(collection string) (CloudConfig, error)
}

// UnknownCollectionError is returned for collections with no registered
// configuration.
type UnknownCollectionError struct {
	Collection string
}

func (e *UnknownCollectionError) Error() string {
	return fmt.Sprintf("no cloud configuration for collection %q", e.Collection)
}

// Table is a read-only Registry backed by a map.
type Table struct {
	entries map[string]CloudConfig
}

// NewTable copies entries into a new table.
func NewTable(entries map[string]CloudConfig) *Table {
	t := &Table{entries: make(map[string]CloudConfig, len(entries))}
	for id, cfg := range entries {
		cfg.NonCloudValues = slices.Clone(cfg.NonCloudValues)
		t.entries[id] = cfg
	}
	return t
}

func (t *Table) Lookup(collection string) (CloudConfig, error) {
	cfg, ok := t.entries[collection]
	if !ok {
		return CloudConfig{}, &UnknownCollectionError{Collection: collection}
	}
	cfg.NonCloudValues = slices.Clone(cfg.NonCloudValues)
	return cfg, nil
}

// Collections returns the registered identifiers in sorted order.
func (t *Table) Collections() []string {
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Merge returns a new table with the entries of other layered over t.
func (t *Table) Merge(other *Table) *Table {
	merged := make(map[string]CloudConfig, len(t.entries)+len(other.entries))
	for id, cfg := range t.entries {
		merged[id] = cfg
	}
	for id, cfg := range other.entries {
		merged[id] = cfg
	}
	return NewTable(merged)
}

// Parse decodes a YAML table keyed by collection identifier.
func Parse(data []byte) (*Table, error) {
	var entries map[string]CloudConfig
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse cloud config: %w", err)
	}
	for id, cfg := range entries {
		if cfg.CloudBand == "" {
			return nil, fmt.Errorf("cloud config %s: cloud_band is required", id)
		}
		if len(cfg.NonCloudValues) == 0 {
			return nil, fmt.Errorf("cloud config %s: non_cloud_values is required", id)
		}
	}
	return NewTable(entries), nil
}

// LoadFile reads a YAML table from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cloud config %s: %w", path, err)
	}
	return Parse(data)
}

var (
	defaultOnce sync.Once
	defaultTab  *Table
)

// Default returns the built-in process-wide table.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Parse(defaultTable)
		if err != nil {
			panic(fmt.Sprintf("embedded cloud config: %v", err))
		}
		defaultTab = t
	})
	return defaultTab
}
