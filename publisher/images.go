package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"brand_hero_content/generator"
)

// ImageSettings configures the OpenAI image client.
type ImageSettings struct {
	Model              string
	APIKey             string
	BaseURL            string
	CallTimeoutSeconds int
}

// OpenAIImages generates images through the official openai-go SDK.
type OpenAIImages struct {
	client openai.Client
	model  string
}

var _ generator.ImageGenerator = (*OpenAIImages)(nil)

func NewOpenAIImagesFromConfig(cfg ImageSettings) (*OpenAIImages, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.CallTimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.CallTimeoutSeconds)*time.Second))
	}
	return NewOpenAIImages(cfg.Model, opts...), nil
}

func NewOpenAIImages(model string, opts ...option.RequestOption) *OpenAIImages {
	if model == "" {
		model = openai.ImageModelDallE3
	}
	return &OpenAIImages{client: openai.NewClient(opts...), model: model}
}

func (o *OpenAIImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  o.model,
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return "", fmt.Errorf("%w: images.generate: %w", generator.ErrUpstreamUnavailable, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("%w: images.generate returned no url", generator.ErrUpstreamUnavailable)
	}
	return resp.Data[0].URL, nil
}
