package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrEmptyResponse = errors.New("gemini returned an empty response")

const summaryPrompt = "Summarize the following issue tracker text in a few sentences. " +
	"Keep error messages, component names and version numbers. Reply with the summary only.\n\n"

// Client embeds text and summarizes it with the Gemini API.
type Client struct {
	client       *genai.Client
	embedModel   string
	summaryModel string
}

func NewClient(ctx context.Context, apiKey, embedModel, summaryModel string, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, embedModel: embedModel, summaryModel: summaryModel}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	slog.DebugContext(ctx, "embedding content", "model", c.embedModel, "length", len(text))
	em := c.client.EmbeddingModel(c.embedModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, ErrEmptyResponse
	}
	return res.Embedding.Values, nil
}

func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	slog.DebugContext(ctx, "summarizing content", "model", c.summaryModel, "length", len(text))
	gm := c.client.GenerativeModel(c.summaryModel)
	res, err := gm.GenerateContent(ctx, genai.Text(summaryPrompt+text))
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	var sb strings.Builder
	for _, cand := range res.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}

	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return "", ErrEmptyResponse
	}
	return summary, nil
}
