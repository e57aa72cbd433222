// Package openai calls the OpenAI API for reply generation and audio
// transcription. Plain net/http against the chat-completions and Whisper
// endpoints; no SDK.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mariobot/internal/session"
)

// DefaultAPIBase is the OpenAI API root used when none is configured.
const DefaultAPIBase = "https://api.openai.com/v1"

// Client is an OpenAI API client.
type Client struct {
	APIKey          string
	APIBase         string
	Model           string
	TranscribeModel string
	MaxTokens       int
	HTTPClient      *http.Client
}

// Config holds client settings.
type Config struct {
	APIKey          string
	APIBase         string
	Model           string
	TranscribeModel string
	MaxTokens       int
}

// NewClient creates a client with defaults filled in.
func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4-turbo"
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = "whisper-1"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 500
	}
	return &Client{
		APIKey:          cfg.APIKey,
		APIBase:         strings.TrimRight(cfg.APIBase, "/"),
		Model:           cfg.Model,
		TranscribeModel: cfg.TranscribeModel,
		MaxTokens:       cfg.MaxTokens,
		HTTPClient:      &http.Client{Timeout: 120 * time.Second},
	}
}

// chatResponse mirrors the chat completion response structure.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate produces a reply for prompt. History entries, when provided, are
// mapped onto user/assistant turns ahead of the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, history []session.Entry) (string, error) {
	messages := make([]map[string]string, 0, len(history)+1)
	for _, e := range history {
		role := "assistant"
		if e.Direction == session.DirectionReceived {
			role = "user"
		}
		messages = append(messages, map[string]string{"role": role, "content": e.Text})
	}
	messages = append(messages, map[string]string{"role": "user", "content": prompt})

	body, err := json.Marshal(map[string]any{
		"model":      c.Model,
		"messages":   messages,
		"max_tokens": c.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion: HTTP %d: %s", resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion: no choices in response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// Transcribe uploads an audio file to the Whisper endpoint and returns the text.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio into form: %w", err)
	}
	if err := mw.WriteField("model", c.TranscribeModel); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBase+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription: HTTP %d: %s", resp.StatusCode, respBody)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse transcription response: %w", err)
	}
	return parsed.Text, nil
}
