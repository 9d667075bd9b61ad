// Package azure implements the LLM backend against an Azure OpenAI
// deployment.
package azure

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/fleetvuln/fleetvuln/libscan/driver"
	"github.com/fleetvuln/fleetvuln/llm"
)

// Config is the connection configuration for a deployment.
type Config struct {
	// resource endpoint, e.g. "https://example.openai.azure.com"
	Endpoint string
	APIKey   string
	// deployment (model) name to address
	Deployment string
	// completion token cap. zero means DefaultMaxTokens
	MaxTokens int32
}

// DefaultMaxTokens bounds the reply; a label answer is one small JSON
// object.
const defaultMaxTokens = 256

// Backend is an Azure OpenAI chat-completions client implementing
// [driver.LLMBackend].
type Backend struct {
	client     *azopenai.Client
	deployment string
	maxTokens  int32
}

var _ driver.LLMBackend = (*Backend)(nil)

// New constructs a Backend from the config.
func New(cfg Config) (*Backend, error) {
	switch {
	case cfg.Endpoint == "":
		return nil, fmt.Errorf("azure: missing endpoint")
	case cfg.APIKey == "":
		return nil, fmt.Errorf("azure: missing api key")
	case cfg.Deployment == "":
		return nil, fmt.Errorf("azure: missing deployment name")
	}
	client, err := azopenai.NewClientWithKeyCredential(cfg.Endpoint, azcore.NewKeyCredential(cfg.APIKey), nil)
	if err != nil {
		return nil, fmt.Errorf("azure: client: %w", err)
	}
	b := &Backend{
		client:     client,
		deployment: cfg.Deployment,
		maxTokens:  cfg.MaxTokens,
	}
	if b.maxTokens == 0 {
		b.maxTokens = defaultMaxTokens
	}
	return b, nil
}

// Predict implements [driver.LLMBackend].
//
// The call is made once with the context's deadline; the SDK's retry policy
// would burn the caller's patience budget, so temperature and sampling are
// pinned for determinism instead.
func (b *Backend) Predict(ctx context.Context, prompt string) (driver.LabelAnswer, error) {
	resp, err := b.client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
		DeploymentName: to.Ptr(b.deployment),
		Messages: []azopenai.ChatRequestMessageClassification{
			&azopenai.ChatRequestUserMessage{
				Content: azopenai.NewChatRequestUserMessageContent(prompt),
			},
		},
		Temperature: to.Ptr[float32](0),
		MaxTokens:   to.Ptr(b.maxTokens),
	}, nil)
	if err != nil {
		return driver.LabelAnswer{}, fmt.Errorf("azure: completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return driver.LabelAnswer{}, fmt.Errorf("azure: empty completion")
	}
	return llm.ParseAnswer(*resp.Choices[0].Message.Content)
}
