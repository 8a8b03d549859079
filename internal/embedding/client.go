package embedding

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client talks to the embedding/LLM provider. Callers treat any error
// as "no result": extraction that cannot get a vector does not score,
// it never blocks a user.
type Client struct {
	client         *openai.Client
	embeddingModel string
	visionModel    string
	dimensions     int
	logger         *zap.Logger
}

func NewClient(apiKey, embeddingModel, visionModel string, dimensions int, logger *zap.Logger) *Client {
	return &Client{
		client:         openai.NewClient(apiKey),
		embeddingModel: embeddingModel,
		visionModel:    visionModel,
		dimensions:     dimensions,
		logger:         logger,
	}
}

// Dimensions is the fixed embedding dimensionality.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// EmbedText returns the embedding vector for a single text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("no text provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.embeddingModel),
		Dimensions: c.dimensions,
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected 1", len(resp.Data))
	}
	if len(resp.Data[0].Embedding) != c.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d",
			len(resp.Data[0].Embedding), c.dimensions)
	}

	return resp.Data[0].Embedding, nil
}

// imageDescriptionSchema is the response schema the vision model must
// conform to when describing an image.
var imageDescriptionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"description": {"type": "string"},
		"contains_text": {"type": "boolean"},
		"extracted_text": {"type": "string"}
	},
	"required": ["description", "contains_text", "extracted_text"],
	"additionalProperties": false
}`)

// ImageDescription is the structured result of describing an image.
type ImageDescription struct {
	Description   string `json:"description"`
	ContainsText  bool   `json:"contains_text"`
	ExtractedText string `json:"extracted_text"`
}

// DescribeImage asks the vision model for a structured description of
// the image at the given URL, then embeds the description text so the
// result can enter the feature vector.
func (c *Client) DescribeImage(ctx context.Context, imageURL string) (*ImageDescription, []float32, error) {
	req := openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Describe this image and extract any visible text."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "image_description",
				Schema: imageDescriptionSchema,
				Strict: true,
			},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to describe image: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil, fmt.Errorf("no choices in image description response")
	}

	var desc ImageDescription
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &desc); err != nil {
		return nil, nil, fmt.Errorf("failed to decode image description: %w", err)
	}

	vec, err := c.EmbedText(ctx, desc.Description+" "+desc.ExtractedText)
	if err != nil {
		return nil, nil, err
	}
	return &desc, vec, nil
}
