package research

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Searcher returns text snippets for a web query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// DuckDuckGo queries the DuckDuckGo Instant Answer API.
type DuckDuckGo struct {
	baseURL string
	client  *http.Client
}

// NewDuckDuckGo creates a searcher against baseURL.
func NewDuckDuckGo(baseURL string, timeout time.Duration) *DuckDuckGo {
	if baseURL == "" {
		baseURL = "https://api.duckduckgo.com/"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DuckDuckGo{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

type ddgTopic struct {
	Text   string     `json:"Text"`
	Topics []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading       string     `json:"Heading"`
	AbstractText  string     `json:"AbstractText"`
	Answer        string     `json:"Answer"`
	Results       []ddgTopic `json:"Results"`
	RelatedTopics []ddgTopic `json:"RelatedTopics"`
}

// Search implements Searcher.
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; studia/1.0)")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload ddgResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return payload.snippets(limit), nil
}

func (r ddgResponse) snippets(limit int) []string {
	var out []string
	add := func(s string) bool {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
		return limit > 0 && len(out) >= limit
	}

	if add(r.Answer) || add(r.AbstractText) {
		return out
	}
	for _, group := range [][]ddgTopic{r.Results, r.RelatedTopics} {
		for _, t := range group {
			if add(t.Text) {
				return out
			}
			for _, sub := range t.Topics {
				if add(sub.Text) {
					return out
				}
			}
		}
	}
	if len(out) == 0 {
		add(r.Heading)
	}
	return out
}
