package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource"
)

// TestLocalOpen covers success, missing file, and pre-canceled context.
func TestLocalOpen(t *testing.T) {
	t.Parallel()

	type tc struct {
		name            string
		prepare         func(t *testing.T) string
		makeCtx         func(t *testing.T) context.Context
		wantErrIs       []error
		wantErrContains string
		wantContent     string
	}

	writeCSV := func(t *testing.T, payload string) string {
		t.Helper()
		p := filepath.Join(t.TempDir(), "contacts.csv")
		if err := os.WriteFile(p, []byte(payload), 0o644); err != nil {
			t.Fatalf("write test file: %v", err)
		}
		return p
	}

	cases := []tc{
		{
			name:        "success_reads_content",
			prepare:     func(t *testing.T) string { return writeCSV(t, "\"a\",\"b\"\n1,2\n") },
			makeCtx:     func(t *testing.T) context.Context { return context.Background() },
			wantContent: "\"a\",\"b\"\n1,2\n",
		},
		{
			name: "missing_file_is_not_found",
			prepare: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.csv")
			},
			makeCtx:         func(t *testing.T) context.Context { return context.Background() },
			wantErrIs:       []error{datasource.ErrNotFound, os.ErrNotExist},
			wantErrContains: "open ",
		},
		{
			name:    "pre_canceled_context_short_circuits",
			prepare: func(t *testing.T) string { return writeCSV(t, "ignored") },
			makeCtx: func(t *testing.T) context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantErrIs: []error{context.Canceled},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			path := c.prepare(t)
			src := NewLocal(path)
			if src.Name() != path {
				t.Fatalf("Name() = %q, want %q", src.Name(), path)
			}

			rc, err := src.Open(c.makeCtx(t))
			if len(c.wantErrIs) > 0 {
				if err == nil {
					t.Fatalf("Open() error = nil, want %v", c.wantErrIs)
				}
				for _, want := range c.wantErrIs {
					if !errors.Is(err, want) {
						t.Fatalf("Open() error = %v, want errors.Is %v", err, want)
					}
				}
				if c.wantErrContains != "" && !strings.Contains(err.Error(), c.wantErrContains) {
					t.Fatalf("Open() error = %q, want substring %q", err, c.wantErrContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer rc.Close()

			b, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if string(b) != c.wantContent {
				t.Fatalf("content = %q, want %q", b, c.wantContent)
			}
		})
	}
}
