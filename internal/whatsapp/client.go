package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAPIBase is the Graph API root used when none is configured.
const DefaultAPIBase = "https://graph.facebook.com/v17.0"

// Client calls the WhatsApp Cloud API for outbound sends and media download.
type Client struct {
	PhoneNumberID string
	AccessToken   string
	APIBase       string
	MediaDir      string
	HTTPClient    *http.Client
}

// NewClient creates a Cloud API client.
func NewClient(phoneNumberID, accessToken, apiBase string) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{
		PhoneNumberID: phoneNumberID,
		AccessToken:   accessToken,
		APIBase:       strings.TrimRight(apiBase, "/"),
		MediaDir:      os.TempDir(),
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// SendText delivers a text message to a sender.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", c.APIBase, c.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("send message: HTTP %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// Fetch downloads a media object to a local temp file and returns its path.
// The Cloud API requires two steps: resolve the media URL, then fetch the
// content with the same bearer token.
func (c *Client) Fetch(ctx context.Context, mediaID, kind string) (string, error) {
	mediaURL, err := c.resolveMediaURL(ctx, mediaID)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("create media request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download media %s: HTTP %d", mediaID, resp.StatusCode)
	}

	ext := ".jpg"
	if kind == "audio" {
		ext = ".ogg"
	}
	path := filepath.Join(c.MediaDir, fmt.Sprintf("media_%s_%s%s", mediaID, uuid.NewString(), ext))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close media file: %w", err)
	}
	return path, nil
}

// Discard removes a downloaded media file.
func (c *Client) Discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[WhatsApp] discard media %s: %v", path, err)
	}
}

func (c *Client) resolveMediaURL(ctx context.Context, mediaID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBase+"/"+mediaID, nil)
	if err != nil {
		return "", fmt.Errorf("create media URL request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve media %s: HTTP %d", mediaID, resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parse media URL response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("resolve media %s: empty url", mediaID)
	}
	return out.URL, nil
}
