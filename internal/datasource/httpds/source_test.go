package httpds

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/justin-pfeifer/ftl-lightspeed/internal/datasource"
)

func TestSource_Open(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/contacts.csv", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "\"a\",\"b\"\n1,2\n")
	})
	mux.HandleFunc("/forbidden.csv", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{MaxRetries: 1})
	c.sleep = func(time.Duration) {}

	t.Run("ok", func(t *testing.T) {
		src := NewSource(c, srv.URL+"/contacts.csv")
		if src.Name() != srv.URL+"/contacts.csv" {
			t.Fatalf("Name() = %q", src.Name())
		}
		rc, err := src.Open(context.Background())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		if string(b) != "\"a\",\"b\"\n1,2\n" {
			t.Fatalf("body = %q", b)
		}
	})

	t.Run("not_found", func(t *testing.T) {
		_, err := NewSource(c, srv.URL+"/missing.csv").Open(context.Background())
		if !errors.Is(err, datasource.ErrNotFound) {
			t.Fatalf("Open error = %v, want ErrNotFound", err)
		}
	})

	t.Run("other_status", func(t *testing.T) {
		_, err := NewSource(c, srv.URL+"/forbidden.csv").Open(context.Background())
		if err == nil || errors.Is(err, datasource.ErrNotFound) {
			t.Fatalf("Open error = %v, want non-NotFound error", err)
		}
	})
}
