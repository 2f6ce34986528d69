// Package config defines the job file model for lightspeed. A job file names
// one source, the CSV format of the stream, one destination table and the
// chunk size. Files are JSON or YAML; both decode into the same structs.
//
// Example (JSON, trimmed):
//
//	{
//	  "job":     "orders-nightly",
//	  "source":  { "kind": "file", "file": { "path": "data/orders.csv" } },
//	  "format":  { "kind": "csv", "options": { "has_header": true, "delimiter": "," } },
//	  "storage": { "kind": "postgres",
//	               "db": { "dsn": "${PG_DSN}", "table": "public.orders",
//	                       "columns": ["id", "amount"], "auto_create_table": true } },
//	  "runtime": { "chunk_size_mb": 64 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultChunkSizeMB is used when runtime.chunk_size_mb is unset.
const DefaultChunkSizeMB = 64

// Environment variables that override the DSNs of a job file.
const (
	EnvSourceDSN  = "LIGHTSPEED_SOURCE_DSN"
	EnvStorageDSN = "LIGHTSPEED_STORAGE_DSN"
)

// Pipeline is the top-level object decoded from a job file.
type Pipeline struct {
	// Job is a free-text label used in logs, metrics and the origin
	// connection's application name. It has no behavioral effect.
	Job string `json:"job" yaml:"job"`

	Source  Source        `json:"source" yaml:"source"`
	Format  Format        `json:"format" yaml:"format"`
	Storage Storage       `json:"storage" yaml:"storage"`
	Runtime RuntimeConfig `json:"runtime" yaml:"runtime"`
}

// RuntimeConfig controls chunking.
type RuntimeConfig struct {
	// ChunkSizeMB is the chunk threshold in MiB. Zero means DefaultChunkSizeMB.
	ChunkSizeMB int `json:"chunk_size_mb" yaml:"chunk_size_mb"`
}

// ChunkMB returns the effective chunk size in MiB.
func (r RuntimeConfig) ChunkMB() int {
	if r.ChunkSizeMB == 0 {
		return DefaultChunkSizeMB
	}
	return r.ChunkSizeMB
}

// Source identifies where the CSV stream comes from.
type Source struct {
	// Kind selects the source: "file", "http", "s3" or "query".
	Kind string `json:"kind" yaml:"kind"`

	File  SourceFile  `json:"file" yaml:"file"`
	HTTP  SourceHTTP  `json:"http" yaml:"http"`
	S3    SourceS3    `json:"s3" yaml:"s3"`
	Query SourceQuery `json:"query" yaml:"query"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `json:"path" yaml:"path"`
}

// SourceHTTP holds configuration for the "http" source kind.
type SourceHTTP struct {
	URL string `json:"url" yaml:"url"`
	// Timeout is a Go duration string ("30s"); empty means no overall deadline.
	Timeout            string            `json:"timeout" yaml:"timeout"`
	MaxRetries         int               `json:"max_retries" yaml:"max_retries"`
	Headers            map[string]string `json:"headers" yaml:"headers"`
	InsecureSkipVerify bool              `json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// TimeoutDuration parses Timeout. An empty value is zero.
func (h SourceHTTP) TimeoutDuration() (time.Duration, error) {
	if strings.TrimSpace(h.Timeout) == "" {
		return 0, nil
	}
	return time.ParseDuration(h.Timeout)
}

// SourceS3 holds configuration for the "s3" source kind. Credentials come
// from the default AWS chain unless the static keys are set.
type SourceS3 struct {
	Bucket          string `json:"bucket" yaml:"bucket"`
	Key             string `json:"key" yaml:"key"`
	Region          string `json:"region" yaml:"region"`
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	ForcePathStyle  bool   `json:"force_path_style" yaml:"force_path_style"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// SourceQuery holds configuration for the "query" source kind: a query run
// against an origin store of any registered storage kind.
type SourceQuery struct {
	Kind    string  `json:"kind" yaml:"kind"`
	DSN     string  `json:"dsn" yaml:"dsn"`
	SQL     string  `json:"sql" yaml:"sql"`
	Options Options `json:"options" yaml:"options"`
}

// Format describes the delimited text of the stream. Only "csv" is supported.
//
// Options keys: has_header (bool, default true), delimiter (string, default ",").
type Format struct {
	Kind    string  `json:"kind" yaml:"kind"`
	Options Options `json:"options" yaml:"options"`
}

// HasHeader reports whether the stream starts with a header row.
func (f Format) HasHeader() bool { return f.Options.Bool("has_header", true) }

// Delimiter returns the field delimiter.
func (f Format) Delimiter() rune { return f.Options.Rune("delimiter", ',') }

// Storage selects the destination backend.
type Storage struct {
	// Kind selects the storage implementation: postgres, mysql, mssql, sqlite.
	Kind string   `json:"kind" yaml:"kind"`
	DB   DBConfig `json:"db" yaml:"db"`
}

// DBConfig configures the destination table.
type DBConfig struct {
	// DSN is the backend connection string. ${VAR} references are expanded.
	DSN string `json:"dsn" yaml:"dsn"`

	// Table is the destination table, optionally schema-qualified.
	Table string `json:"table" yaml:"table"`

	// Columns enumerates the destination columns in stream order. For
	// streams with a header row they must match the header exactly.
	Columns []string `json:"columns" yaml:"columns"`

	// KeyColumns switches the load to upsert mode: rows whose key matches an
	// existing row replace it. Requires a unique constraint on the key.
	KeyColumns []string `json:"key_columns" yaml:"key_columns"`

	// AutoCreateTable creates the table with TEXT columns when missing.
	AutoCreateTable bool `json:"auto_create_table" yaml:"auto_create_table"`

	// Options holds backend-specific tuning (max_conns, batch_rows, tablock).
	Options Options `json:"options" yaml:"options"`
}

// Load reads a job file. Files ending in .yaml or .yml are decoded as YAML,
// everything else as JSON. DSNs are then environment-expanded and the
// LIGHTSPEED_*_DSN variables, when set, replace them.
func Load(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}

	var p Pipeline
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &p); err != nil {
			return Pipeline{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	p.ApplyEnv(os.LookupEnv)
	return p, nil
}

// ApplyEnv expands ${VAR} references in the DSNs and applies the DSN
// override variables. lookup is usually os.LookupEnv.
func (p *Pipeline) ApplyEnv(lookup func(string) (string, bool)) {
	expand := func(s string) string {
		return os.Expand(s, func(k string) string {
			v, _ := lookup(k)
			return v
		})
	}
	p.Source.Query.DSN = expand(p.Source.Query.DSN)
	p.Storage.DB.DSN = expand(p.Storage.DB.DSN)

	if v, ok := lookup(EnvSourceDSN); ok && v != "" {
		p.Source.Query.DSN = v
	}
	if v, ok := lookup(EnvStorageDSN); ok && v != "" {
		p.Storage.DB.DSN = v
	}
}

// Options is a small helper to fetch typed values from free-form JSON or YAML
// maps. It performs only minimal type coercion and returns provided defaults
// when a key is absent or of an unexpected type.
//
// Options is used for format- and backend-specific settings whose shape
// varies by implementation.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 by encoding/json, so this method accepts float64 and casts to int.
// If the value is neither float64 nor int, def is returned.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. This is useful for single-character parser settings such as
// a CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored. Returns an empty map
// when the key is missing or the value is not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of strings
// (or an array of interface values containing strings). Returns nil when the
// key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Any returns the raw value for key (which may itself be a nested
// map[string]any, []any, or primitive). This is useful for retrieving nested
// configuration blocks that will be unmarshaled into a typed struct by the
// caller (e.g., an inline validation contract).
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null "options"
// object in JSON decodes to a non-nil, empty Options map. This simplifies call
// sites by removing the need to nil-check Options values.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
