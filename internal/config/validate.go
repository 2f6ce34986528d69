// This file adds a lightweight linter/validator for Pipeline values. It
// performs static checks over a decoded Pipeline and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "storage.db.key_columns[1]"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// KnownStorageKinds lists the destination backends built into the binary.
// Origin stores for query sources use the same kinds.
var KnownStorageKinds = []string{"mssql", "mysql", "postgres", "sqlite"}

// ValidatePipeline performs static validation / linting of a Pipeline.
//
// It does not mutate the pipeline. Callers may decide whether to treat
// warnings as fatal or not.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job is empty; logs, metrics and the origin application name will be unlabeled",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateFormat(p.Format)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)

	return issues
}

func errorf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)}
}

func warnf(path, format string, a ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)}
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

func knownStorage(kind string) bool {
	for _, k := range KnownStorageKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// validateSource validates Source configuration.
func validateSource(s Source) []Issue {
	var issues []Issue

	switch s.Kind {
	case "":
		return append(issues, errorf("source.kind", "source.kind must not be empty"))
	case "file":
		if blank(s.File.Path) {
			issues = append(issues, errorf("source.file.path", "file source requires a non-empty path"))
		}
	case "http":
		if blank(s.HTTP.URL) {
			issues = append(issues, errorf("source.http.url", "http source requires a url"))
		} else if !strings.HasPrefix(s.HTTP.URL, "http://") && !strings.HasPrefix(s.HTTP.URL, "https://") {
			issues = append(issues, errorf("source.http.url", "url %q must use http or https", s.HTTP.URL))
		}
		if _, err := s.HTTP.TimeoutDuration(); err != nil {
			issues = append(issues, errorf("source.http.timeout", "invalid duration %q: %v", s.HTTP.Timeout, err))
		}
		if s.HTTP.MaxRetries < 0 {
			issues = append(issues, errorf("source.http.max_retries", "max_retries must not be negative"))
		}
	case "s3":
		if blank(s.S3.Bucket) {
			issues = append(issues, errorf("source.s3.bucket", "s3 source requires a bucket"))
		}
		if blank(s.S3.Key) {
			issues = append(issues, errorf("source.s3.key", "s3 source requires a key"))
		}
		if blank(s.S3.Region) {
			issues = append(issues, errorf("source.s3.region", "s3 source requires a region"))
		}
		if (s.S3.AccessKeyID == "") != (s.S3.SecretAccessKey == "") {
			issues = append(issues, warnf("source.s3", "only one of access_key_id/secret_access_key is set; the default credential chain will be used"))
		}
	case "query":
		if blank(s.Query.Kind) {
			issues = append(issues, errorf("source.query.kind", "query source requires the origin storage kind"))
		} else if !knownStorage(s.Query.Kind) {
			issues = append(issues, warnf("source.query.kind", "unknown origin kind %q; ensure a matching backend is registered", s.Query.Kind))
		}
		if blank(s.Query.DSN) {
			issues = append(issues, errorf("source.query.dsn", "query source requires a dsn"))
		}
		if blank(s.Query.SQL) {
			issues = append(issues, errorf("source.query.sql", "query source requires sql"))
		}
	default:
		issues = append(issues, errorf("source.kind", "unsupported source kind %q (want file, http, s3 or query)", s.Kind))
	}

	return issues
}

// validateFormat validates the stream format.
func validateFormat(f Format) []Issue {
	var issues []Issue

	if f.Kind != "" && f.Kind != "csv" {
		issues = append(issues, errorf("format.kind", "unsupported format %q; only csv is supported", f.Kind))
	}
	if v, ok := f.Options["delimiter"]; ok {
		s, isString := v.(string)
		switch {
		case !isString || len([]rune(s)) != 1:
			issues = append(issues, errorf("format.options.delimiter", "delimiter must be a single character"))
		case s == `"` || s == "\r" || s == "\n":
			issues = append(issues, errorf("format.options.delimiter", "delimiter %q is not allowed", s))
		}
	}
	if v, ok := f.Options["has_header"]; ok {
		if _, isBool := v.(bool); !isBool {
			issues = append(issues, errorf("format.options.has_header", "has_header must be a boolean"))
		}
	}

	return issues
}

// validateStorage validates storage configuration and DB settings.
func validateStorage(s Storage) []Issue {
	var issues []Issue

	if blank(s.Kind) {
		issues = append(issues, errorf("storage.kind", "storage.kind must not be empty"))
	} else if !knownStorage(s.Kind) {
		issues = append(issues, warnf("storage.kind", "unknown storage kind %q; ensure a matching backend is registered", s.Kind))
	}

	db := s.DB
	if blank(db.DSN) {
		issues = append(issues, errorf("storage.db.dsn", "storage.db.dsn must not be empty"))
	}
	if blank(db.Table) {
		issues = append(issues, errorf("storage.db.table", "storage.db.table must not be empty"))
	}
	if len(db.Columns) == 0 {
		issues = append(issues, errorf("storage.db.columns", "storage.db.columns must not be empty; at least one destination column is required"))
	}

	seen := make(map[string]bool, len(db.Columns))
	for i, c := range db.Columns {
		path := fmt.Sprintf("storage.db.columns[%d]", i)
		switch {
		case blank(c):
			issues = append(issues, errorf(path, "column name must not be empty"))
		case seen[c]:
			issues = append(issues, errorf(path, "duplicate column %q", c))
		}
		seen[c] = true
	}
	for i, k := range db.KeyColumns {
		if !seen[k] {
			issues = append(issues, errorf(fmt.Sprintf("storage.db.key_columns[%d]", i), "key column %q is not in storage.db.columns", k))
		}
	}
	if len(db.KeyColumns) > 0 && !db.AutoCreateTable {
		issues = append(issues, warnf("storage.db.key_columns", "upsert requires a unique constraint on the key columns of %s", db.Table))
	}

	return issues
}

// validateRuntime validates RuntimeConfig for obvious misconfigurations.
func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.ChunkSizeMB < 0 {
		issues = append(issues, errorf("runtime.chunk_size_mb", "chunk_size_mb must not be negative"))
	}
	if r.ChunkSizeMB > 1024 {
		issues = append(issues, warnf("runtime.chunk_size_mb", "chunk_size_mb=%d; each job holds a full chunk in memory", r.ChunkSizeMB))
	}

	return issues
}
