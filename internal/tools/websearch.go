package tools

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

const braveDefaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

// WebSearcher queries the Brave Search API.
type WebSearcher struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewWebSearcher builds a searcher; the key comes from the environment.
func NewWebSearcher(endpoint, apiKey string) *WebSearcher {
	if endpoint == "" {
		endpoint = braveDefaultEndpoint
	}
	return &WebSearcher{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether the searcher has an API key.
func (w *WebSearcher) Enabled() bool { return w.apiKey != "" }

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Search returns up to count formatted results for the query.
func (w *WebSearcher) Search(ctx context.Context, query string, count int) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("пустой поисковый запрос")
	}
	if count < 1 || count > 10 {
		count = 5
	}

	q := url.Values{"q": {query}, "count": {fmt.Sprint(count)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", w.apiKey)

	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("запрос к поиску не удался: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return "", fmt.Errorf("неверный API ключ поиска")
	case http.StatusTooManyRequests:
		return "", fmt.Errorf("превышен лимит запросов поиска")
	default:
		return "", fmt.Errorf("поиск вернул %d", resp.StatusCode)
	}

	var body struct {
		Web struct {
			Results []braveResult `json:"results"`
		} `json:"web"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &body); err != nil {
		return "", fmt.Errorf("разбор ответа поиска: %w", err)
	}

	results := body.Web.Results
	if len(results) == 0 {
		return fmt.Sprintf("🔍 По запросу «%s» ничего не найдено", query), nil
	}
	if len(results) > count {
		results = results[:count]
	}

	var b strings.Builder
	for i, r := range results {
		desc := r.Description
		if rr := []rune(desc); len(rr) > 250 {
			desc = string(rr[:250])
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n   🔗 %s\n\n", i+1, r.Title, desc, r.URL)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// NewWebSearchTool wraps the searcher as a registered tool.
func NewWebSearchTool(w *WebSearcher) *Tool {
	return &Tool{
		Name:        "web_search",
		Description: "Поиск в интернете (актуальные новости, погода, факты)",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "Поисковый запрос"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return w.Search(ctx, stringArg(args, "query"), 5)
		},
	}
}
