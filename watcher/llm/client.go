package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/spance/capwatch/watcher/definitions"
	"github.com/spance/capwatch/watcher/helper"
)

// ModelClient asks a vision-capable chat model whether the target is in a snapshot.
type ModelClient struct {
	config *definitions.ModelConfig
	client *openai.Client
	prompt string
}

func NewModelClient(cfg *definitions.ModelConfig) *ModelClient {
	if cfg == nil {
		cfg = &definitions.ModelConfig{}
	}
	openaiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openaiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		openaiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &ModelClient{
		config: cfg,
		client: openai.NewClientWithConfig(openaiCfg),
		prompt: cfg.GetPrompt(),
	}
}

// Prompt returns the rendered instruction sent with every snapshot.
func (c *ModelClient) Prompt() string {
	return c.prompt
}

// Classify sends the snapshot with the instruction and reports the model's verdict.
func (c *ModelClient) Classify(ctx context.Context, snapshot *definitions.Snapshot) (bool, error) {
	if snapshot == nil || len(snapshot.Data) == 0 {
		return false, errors.New("empty snapshot")
	}
	startTime := time.Now()

	detail := openai.ImageURLDetail(c.config.ImageDetail)
	if detail == "" {
		detail = openai.ImageURLDetailLow
	}
	msg := helper.CreateUserMessage(c.prompt, snapshot.DataURL(), detail)
	helper.PrintChatMessage(&msg)

	req := openai.ChatCompletionRequest{
		Model:               c.config.ModelName,
		Messages:            []openai.ChatCompletionMessage{msg},
		MaxCompletionTokens: c.config.MaxTokens,
		Temperature:         c.config.Temperature,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return false, fmt.Errorf("create chat completion: %w", err)
	}

	if len(resp.Choices) > 0 {
		helper.PrintChatMessage(&resp.Choices[0].Message)
	}
	content := helper.FirstChoiceContent(&resp)
	verdict := helper.ParseVerdict(content)

	log.Debug().
		Str("model", c.config.ModelName).
		Str("content", content).
		Bool("verdict", verdict).
		Dur("elapsed", time.Since(startTime)).
		Msg("💭 model response")

	return verdict, nil
}

// Ping issues a tiny text-only completion to verify connectivity and credentials.
func (c *ModelClient) Ping(ctx context.Context) (string, error) {
	resp, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.config.ModelName,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: "please return hello world",
				},
			},
			MaxCompletionTokens: 5,
		},
	)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("received empty response from API")
	}
	return resp.Choices[0].Message.Content, nil
}
