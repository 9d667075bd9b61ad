// Package llamaserver implements the LLM backend against a self-hosted
// llama.cpp HTTP server.
//
// This is the air-gapped deployment's backend: the model runs on a host the
// operator controls and the engine only speaks the server's /completion
// endpoint.
package llamaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fleetvuln/fleetvuln/libscan/driver"
	"github.com/fleetvuln/fleetvuln/llm"
)

// Backend is a llama.cpp server client implementing [driver.LLMBackend].
type Backend struct {
	root   *url.URL
	client *http.Client
	// completion token cap
	predict int
}

var _ driver.LLMBackend = (*Backend)(nil)

// New constructs a Backend addressing the server at root, e.g.
// "http://127.0.0.1:8080". A nil client uses http.DefaultClient.
func New(root string, client *http.Client) (*Backend, error) {
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("llamaserver: bad root URL: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Backend{root: u, client: client, predict: 256}, nil
}

type completionRequest struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	NPredict    int     `json:"n_predict"`
	Stream      bool    `json:"stream"`
	CachePrompt bool    `json:"cache_prompt"`
}

type completionResponse struct {
	Content string `json:"content"`
}

// Predict implements [driver.LLMBackend].
func (b *Backend) Predict(ctx context.Context, prompt string) (driver.LabelAnswer, error) {
	var none driver.LabelAnswer
	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		Temperature: 0,
		NPredict:    b.predict,
		Stream:      false,
		CachePrompt: true,
	})
	if err != nil {
		return none, err
	}
	u := b.root.JoinPath("completion")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return none, err
	}
	req.Header.Set("content-type", "application/json")
	res, err := b.client.Do(req)
	if err != nil {
		return none, fmt.Errorf("llamaserver: completion: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return none, fmt.Errorf("llamaserver: unexpected status: %s", res.Status)
	}
	var cr completionResponse
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return none, fmt.Errorf("llamaserver: decode: %w", err)
	}
	return llm.ParseAnswer(cr.Content)
}
