package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type FirecrawlConfig struct {
	APIKey  string
	BaseURL string
	Formats []string
}

type FirecrawlClient struct {
	apiKey  string
	baseURL string
	formats []string
	client  *http.Client
}

func NewFirecrawlClient(cfg FirecrawlConfig) *FirecrawlClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.firecrawl.dev"
	}
	formats := cfg.Formats
	if len(formats) == 0 {
		formats = []string{"markdown"}
	}
	return &FirecrawlClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		formats: formats,
		client:  &http.Client{Timeout: 35 * time.Second},
	}
}

func (c *FirecrawlClient) Scrape(ctx context.Context, url string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("missing API key for scrape provider")
	}
	payload := map[string]any{
		"url":     url,
		"formats": c.formats,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("scrape request failed: %s", resp.Status)
	}

	var parsed struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Data    struct {
			Markdown string `json:"markdown"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if !parsed.Success {
		reason := strings.TrimSpace(parsed.Error)
		if reason == "" {
			reason = "scrape provider reported failure"
		}
		return "", errors.New(reason)
	}
	return parsed.Data.Markdown, nil
}
