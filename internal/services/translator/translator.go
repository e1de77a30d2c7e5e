// Package translator is the client for the external text translation service.
package translator

import (
	"context"
	"fmt"
	"time"

	"loom/internal/services/asyncjob"
)

// Translation is one translated transcript.
type Translation struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// Client calls the translation service. An empty base URL selects a
// built-in stand-in that tags the text with the target language.
type Client struct {
	api *asyncjob.Client
}

// New builds a translator client.
func New(baseURL string, requestTimeout, pollInterval time.Duration) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{api: asyncjob.New(baseURL, requestTimeout, pollInterval)}
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

// Translate renders text into the target language.
func (c *Client) Translate(ctx context.Context, text, targetLanguage string) (*Translation, error) {
	if c.api == nil {
		return &Translation{
			Language: targetLanguage,
			Text:     fmt.Sprintf("[%s] %s", targetLanguage, text),
		}, nil
	}
	var translation Translation
	req := translateRequest{Text: text, TargetLanguage: targetLanguage}
	if err := c.api.Run(ctx, "translate", "/v1/translations", req, &translation); err != nil {
		return nil, err
	}
	return &translation, nil
}
