package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// do sends body (JSON-encoded when non-nil) and decodes the JSON response
// into v (may be nil).
func (c *Client) do(method, path string, body, v any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, errorText(b))
	}
	if v == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if s, ok := v.(*string); ok {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		*s = string(b)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

// post performs a POST and decodes the JSON response into v (may be nil).
func (c *Client) post(path string, body, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

func (c *Client) delete(path string) error {
	return c.do(http.MethodDelete, path, nil, nil)
}

// errorText unwraps {"error": "..."} bodies.
func errorText(b []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(b))
}
