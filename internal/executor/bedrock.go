package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Bedrock invokes a model through AWS Bedrock's InvokeModel API using the
// Anthropic messages payload shape.
type Bedrock struct {
	name    string
	modelID string
	client  *bedrockruntime.Client
}

// NewBedrock loads the default AWS config for the region and creates a
// Bedrock executor for the given model.
func NewBedrock(ctx context.Context, name, region, modelID string) (*Bedrock, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewBedrockWithConfig(cfg, name, modelID), nil
}

// NewBedrockWithConfig creates a Bedrock executor with an existing AWS config.
func NewBedrockWithConfig(cfg aws.Config, name, modelID string) *Bedrock {
	return &Bedrock{
		name:    name,
		modelID: modelID,
		client:  bedrockruntime.NewFromConfig(cfg),
	}
}

func (b *Bedrock) Name() string { return b.name }

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *Bedrock) Invoke(ctx context.Context, prompt string, maxOutputTokens int) (*Result, error) {
	if maxOutputTokens <= 0 {
		maxOutputTokens = 1024
	}

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxOutputTokens,
		Messages: []bedrockMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke model: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	result := &Result{
		Text:         text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	if result.InputTokens == 0 {
		result.InputTokens = estimateTokens(prompt)
	}
	if result.OutputTokens == 0 {
		result.OutputTokens = estimateTokens(text)
	}
	return result, nil
}

// HealthCheck verifies credentials can be resolved. Invoking a model as a
// probe would bill tokens per probe, so the check stays local.
func (b *Bedrock) HealthCheck(ctx context.Context) error {
	opts := b.client.Options()
	if _, err := opts.Credentials.Retrieve(ctx); err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}
	return nil
}
