// Package llm wraps the OpenAI API calls the worker makes.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var ErrEmptyResponse = errors.New("empty model response")

type Config struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	VisionModel        string
	TranslationModel   string
}

type Client struct {
	api openai.Client
	cfg Config
}

func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = string(openai.AudioModelWhisper1)
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = string(openai.ChatModelGPT4o)
	}
	if cfg.TranslationModel == "" {
		cfg.TranslationModel = string(openai.ChatModelGPT4oMini)
	}
	return &Client{api: openai.NewClient(opts...), cfg: cfg}
}

// Transcribe sends the audio file at path to the speech-to-text model.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	resp, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(c.cfg.TranscriptionModel),
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	if resp.Text == "" {
		return "", ErrEmptyResponse
	}
	return resp.Text, nil
}

// DescribeImage asks the vision model about the image in dataURL.
func (c *Client) DescribeImage(ctx context.Context, prompt, dataURL string) (string, error) {
	return c.complete(ctx, c.cfg.VisionModel, []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		}),
	})
}

// Translate runs instructions over text with the translation model.
func (c *Client) Translate(ctx context.Context, instructions, text string) (string, error) {
	return c.complete(ctx, c.cfg.TranslationModel, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(instructions),
		openai.UserMessage(text),
	})
}

func (c *Client) complete(ctx context.Context, model string, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
