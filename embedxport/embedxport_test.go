package embedxport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
)

func embedService(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("path: %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = float32(len(req.Inputs)%7) / 7
		}
		json.NewEncoder(w).Encode([][]float32{vec})
	}))
}

func TestEmbed(t *testing.T) {
	srv := embedService(t, driver.EmbeddingDim)
	defer srv.Close()
	c, err := New(srv.URL, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	vec, err := c.Embed(context.Background(), "BGP neighbor flaps under load")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != driver.EmbeddingDim {
		t.Errorf("got %d-wide vector", len(vec))
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("check: %v", err)
	}
}

func TestWrongWidth(t *testing.T) {
	srv := embedService(t, 16)
	defer srv.Close()
	c, err := New(srv.URL, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Embed(context.Background(), "text"); err == nil {
		t.Error("expected width error")
	}
}

func TestCheckUnavailable(t *testing.T) {
	srv := embedService(t, driver.EmbeddingDim)
	srv.Close() // immediately; the address refuses connections
	c, err := New(srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = c.Check(context.Background())
	if !errors.Is(err, fleetvuln.ErrUnavailable) {
		t.Errorf("got: %v, want unavailable", err)
	}
}
