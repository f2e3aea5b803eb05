package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const defaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

// ModelInvoker is the subset of the Bedrock runtime client used here.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockProvider calls Anthropic models hosted on AWS Bedrock.
type BedrockProvider struct {
	ModelID string
	client  ModelInvoker
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

type bedrockBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []bedrockBlock `json:"content"`
}

// NewBedrockProvider loads the default AWS credential chain for region.
func NewBedrockProvider(ctx context.Context, modelID, region string) (*BedrockProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewBedrockProviderWithClient(bedrockruntime.NewFromConfig(cfg), modelID), nil
}

// NewBedrockProviderWithClient wraps an existing client.
func NewBedrockProviderWithClient(client ModelInvoker, modelID string) *BedrockProvider {
	if modelID == "" {
		modelID = defaultBedrockModel
	}
	return &BedrockProvider{ModelID: modelID, client: client}
}

// IsConfigured reports whether a client is present.
func (b *BedrockProvider) IsConfigured() bool {
	return b.client != nil
}

// Generate sends a single-turn prompt and returns the concatenated text blocks.
func (b *BedrockProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages: []bedrockMessage{
			{Role: "user", Content: []bedrockBlock{{Type: "text", Text: prompt}}},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	out, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decoding bedrock response: %w", err)
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty bedrock response")
	}
	return text.String(), nil
}
