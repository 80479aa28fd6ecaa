// Package http is a thin net/http + encoding/json client for the
// identifier service's paged identifier listing endpoint.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"linkcheck/internal/identstore"
)

// Client fetches pages of eligible identifier rows from a live identifier
// service.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New builds a Client against baseURL, using apiKey for bearer auth if
// non-empty.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type pageResponse struct {
	Rows []struct {
		Identifier      string `json:"identifier"`
		Owner           string `json:"owner"`
		Target          string `json:"target"`
		Status          string `json:"status"`
		IsTest          bool   `json:"is_test"`
		IsDefaultTarget bool   `json:"is_default_target"`
	} `json:"rows"`
	Next string `json:"next"`
}

// Page implements identstore.Client.
func (c *Client) Page(ctx context.Context, cursor string, size int) (identstore.Page, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return identstore.Page{}, fmt.Errorf("parse identifier store base url: %w", err)
	}
	u.Path = joinPath(u.Path, "v1/identifiers")
	q := u.Query()
	q.Set("after", cursor)
	q.Set("limit", fmt.Sprintf("%d", size))
	// public/production narrow the bulk of ineligible rows out server-side;
	// the reconciler still re-checks identstore.SourceRow.Eligible itself
	// rather than trusting this query alone.
	q.Set("public", "true")
	q.Set("production", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return identstore.Page{}, fmt.Errorf("build identifier store request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return identstore.Page{}, fmt.Errorf("identifier store request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return identstore.Page{}, fmt.Errorf("identifier store returned status %d", resp.StatusCode)
	}

	var parsed pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return identstore.Page{}, fmt.Errorf("decode identifier store page: %w", err)
	}

	page := identstore.Page{Next: parsed.Next}
	for _, r := range parsed.Rows {
		page.Rows = append(page.Rows, identstore.SourceRow{
			Identifier:      r.Identifier,
			Owner:           r.Owner,
			Target:          r.Target,
			Status:          r.Status,
			IsTest:          r.IsTest,
			IsDefaultTarget: r.IsDefaultTarget,
		})
	}
	return page, nil
}

func joinPath(base, suffix string) string {
	if base == "" {
		return "/" + suffix
	}
	if base[len(base)-1] == '/' {
		return base + suffix
	}
	return base + "/" + suffix
}
