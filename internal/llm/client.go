package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MimeLyc/live-caption-translator/internal/errs"
)

const maxErrorBody = 512

const translatePrompt = "You translate live meeting and video captions. " +
	"Translate the user's text into %s. " +
	"Reply with the translation only, without quotes, notes or explanations. " +
	"Keep speaker names unchanged."

// Client talks to an OpenAI compatible chat completion API.
// Thread-safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new LLM client with the given configuration
//
//	client, err := llm.NewClient(&llm.Config{APIKey: key, APIURL: url, Model: "openai/gpt-4o-mini", MaxTokens: 256, Timeout: 30})
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// ChatCompletion sends messages and returns the raw response.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message) (*ChatResponse, error) {
	request := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrParse, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrNetwork, "failed to create request")
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrNetwork, "chat completion request failed").
			WithContext("model", c.config.Model)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrNetwork, "failed to read response")
	}

	var chat ChatResponse
	decodeErr := json.Unmarshal(body, &chat)

	if chat.Error != nil && chat.Error.Message != "" {
		return nil, errs.Wrap(chat.Error, errs.ErrBackend, "chat completion rejected").
			WithContext("status", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := truncate(strings.TrimSpace(string(body)), maxErrorBody)
		return nil, errs.New(errs.ErrBackend, "chat completion rejected").
			WithContext("status", resp.StatusCode).
			WithContext("body", snippet)
	}
	if decodeErr != nil {
		return nil, errs.Wrap(decodeErr, errs.ErrParse, "failed to decode response")
	}
	return &chat, nil
}

// Translate asks the model for a plain translation of text into targetLang.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	tag, err := language.Parse(targetLang)
	if err != nil {
		return "", errs.Wrap(err, errs.ErrValidation, "invalid target language").
			WithContext("target", targetLang)
	}

	resp, err := c.ChatCompletion(ctx, []Message{
		{Role: "system", Content: fmt.Sprintf(translatePrompt, languageName(tag))},
		{Role: "user", Content: text},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.ErrParse, "no choices in response").
			WithContext("target", targetLang)
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	if translated == "" {
		return "", errs.New(errs.ErrBackend, "empty translation").
			WithContext("finish_reason", resp.Choices[0].FinishReason)
	}
	return translated, nil
}

// languageName renders tag in English, e.g. "pt-BR" -> "Brazilian Portuguese".
func languageName(tag language.Tag) string {
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return tag.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
