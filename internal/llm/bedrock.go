package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/teemow/inboxtriage/internal/triageerr"
)

// InvokeModelAPI is the part of the Bedrock runtime client used here.
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient runs Anthropic models on Amazon Bedrock.
type BedrockClient struct {
	model     string
	maxTokens int
	svc       InvokeModelAPI
}

// NewBedrock initializes a client using the default AWS config chain.
func NewBedrock(ctx context.Context, region, model string, maxTokens int) (*BedrockClient, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("bedrock model is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if strings.TrimSpace(region) != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("AWS region not resolved: set llm.region, AWS_REGION or a region in the AWS profile")
	}
	return NewBedrockFromAPI(bedrockruntime.NewFromConfig(cfg), model, maxTokens), nil
}

// NewBedrockFromAPI wraps an existing runtime client.
func NewBedrockFromAPI(svc InvokeModelAPI, model string, maxTokens int) *BedrockClient {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &BedrockClient{model: model, maxTokens: maxTokens, svc: svc}
}

func (b *BedrockClient) Name() string { return ProviderBedrock }

type bedrockRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

// Complete invokes the model with req.
func (b *BedrockClient) Complete(ctx context.Context, req Request) (string, error) {
	payload := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        req.MaxTokens,
		System:           req.System,
	}
	if payload.MaxTokens <= 0 {
		payload.MaxTokens = b.maxTokens
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	out, err := b.svc.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", bedrockError(err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", &triageerr.ValidationError{Source: ProviderBedrock, Reason: "undecodable response", Raw: out.Body}
	}
	text := extractText(resp.Content)
	if text == "" {
		return "", &triageerr.ValidationError{Source: ProviderBedrock, Reason: "empty response", Raw: out.Body}
	}
	return text, nil
}

// bedrockError maps SDK failures onto ProviderError so the retry policy
// sees the HTTP status.
func bedrockError(err error) error {
	pe := &triageerr.ProviderError{Op: "bedrock.invoke_model", Err: err}
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		pe.Code = re.HTTPStatusCode()
	}
	return pe
}
