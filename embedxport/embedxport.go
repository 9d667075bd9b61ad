// Package embedxport adapts a text-embeddings-inference HTTP service to the
// engine's Embedder interface.
//
// The embedding model itself stays a black box on the far side of the wire;
// this package only owns the transport. The service must be reachable at
// startup (the predictor's tier 2 is useless without it) and per-request
// failures afterward are the caller's to degrade.
package embedxport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
)

// Client speaks the /embed endpoint of a text-embeddings-inference server.
type Client struct {
	root   *url.URL
	client *http.Client
}

var _ driver.Embedder = (*Client)(nil)

// New constructs a Client addressing the service at root, e.g.
// "http://127.0.0.1:8082". A nil client uses http.DefaultClient.
func New(root string, client *http.Client) (*Client, error) {
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("embedxport: bad root URL: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{root: u, client: client}, nil
}

type embedRequest struct {
	Inputs string `json:"inputs"`
}

// Embed implements [driver.Embedder].
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Inputs: text})
	if err != nil {
		return nil, err
	}
	u := c.root.JoinPath("embed")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedxport: embed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedxport: unexpected status: %s", res.Status)
	}
	// The service embeds batches; a single input comes back as a
	// one-element batch.
	var vecs [][]float32
	if err := json.NewDecoder(res.Body).Decode(&vecs); err != nil {
		return nil, fmt.Errorf("embedxport: decode: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedxport: got %d vectors for one input", len(vecs))
	}
	if len(vecs[0]) != driver.EmbeddingDim {
		return nil, fmt.Errorf("embedxport: got %d-wide vector, want %d", len(vecs[0]), driver.EmbeddingDim)
	}
	return vecs[0], nil
}

// Check verifies the service is reachable and produces vectors of the
// expected width. Called once at startup; failure there is fatal.
func (c *Client) Check(ctx context.Context) error {
	if _, err := c.Embed(ctx, "startup probe"); err != nil {
		return &fleetvuln.Error{
			Op:      `embedder check`,
			Kind:    fleetvuln.ErrUnavailable,
			Message: "embedding service unavailable",
			Inner:   err,
		}
	}
	return nil
}
