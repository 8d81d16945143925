package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/bedrock"
)

const (
	defaultBedrockRegion = "us-east-1"
	defaultBedrockModel  = "anthropic.claude-3-haiku-20240307-v1:0"
)

// BedrockConfig selects the model and AWS credentials for a BedrockProvider.
// Empty credential fields fall back to the default AWS chain.
type BedrockConfig struct {
	Region  string
	ModelID string
	Profile string

	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string // for temporary STS credentials

	MaxTokens   int // final write-ups run long, so the default is 2048
	Temperature float64
}

func (c BedrockConfig) withDefaults() BedrockConfig {
	if c.Region == "" {
		c.Region = defaultBedrockRegion
	}
	if c.ModelID == "" {
		c.ModelID = defaultBedrockModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	return c
}

func (c BedrockConfig) loadOptions() []func(*config.LoadOptions) error {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(c.Profile))
	}
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
		opts = append(opts, config.WithCredentialsProvider(static))
	}
	return opts
}

// BedrockProvider answers single prompts with a Bedrock chat model. It is
// stateless; LocalThreads supplies the conversation.
type BedrockProvider struct {
	model    llms.Model
	name     string
	callOpts []llms.CallOption
}

// NewBedrockProvider resolves AWS credentials and binds the configured model
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	cfg = cfg.withDefaults()

	awsCfg, err := config.LoadDefaultConfig(ctx, cfg.loadOptions()...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config for %s: %w", cfg.Region, err)
	}

	model, err := bedrock.New(
		bedrock.WithModel(cfg.ModelID),
		bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
	)
	if err != nil {
		return nil, fmt.Errorf("bind Bedrock model %s: %w", cfg.ModelID, err)
	}
	return newBedrockProvider(model, cfg), nil
}

func newBedrockProvider(model llms.Model, cfg BedrockConfig) *BedrockProvider {
	return &BedrockProvider{
		model: model,
		name:  "bedrock:" + cfg.ModelID,
		callOpts: []llms.CallOption{
			llms.WithMaxTokens(cfg.MaxTokens),
			llms.WithTemperature(cfg.Temperature),
		},
	}
}

// GenerateText implements Provider
func (p *BedrockProvider) GenerateText(ctx context.Context, prompt string) (string, error) {
	resp, err := p.model.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, p.callOpts...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p.name, err)
	}
	return replyText(resp)
}

// Name implements Provider
func (p *BedrockProvider) Name() string { return p.name }

var errEmptyReply = errors.New("model returned no text")

func replyText(resp *llms.ContentResponse) (string, error) {
	if resp == nil {
		return "", errEmptyReply
	}
	for _, choice := range resp.Choices {
		if choice != nil && strings.TrimSpace(choice.Content) != "" {
			return choice.Content, nil
		}
	}
	return "", errEmptyReply
}
