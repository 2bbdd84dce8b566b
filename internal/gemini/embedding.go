package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type EmbeddingClient struct {
	client *Client
	model  string
}

func NewEmbeddingClient(client *Client, model string) *EmbeddingClient {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &EmbeddingClient{client: client, model: model}
}

// Embed returns the embedding vector for text.
func (e *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("embed: empty text")
	}
	if err := e.client.wait(ctx); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	resp, err := e.client.genai.Models.EmbedContent(ctx, e.model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", apiError(err))
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("embed: empty embedding in response")
	}
	return resp.Embeddings[0].Values, nil
}

func (e *EmbeddingClient) ModelName() string {
	return e.model
}
