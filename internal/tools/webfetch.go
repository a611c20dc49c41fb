package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// WebFetcher downloads a page and reduces it to readable text. When the
// static fetch yields nothing useful and the browser fallback is enabled, it
// renders the page in headless Chromium and extracts the body text.
type WebFetcher struct {
	http            *http.Client
	browserFallback bool
}

// NewWebFetcher creates a fetcher. browserFallback enables the rendered
// second attempt for script-heavy pages.
func NewWebFetcher(browserFallback bool) *WebFetcher {
	return &WebFetcher{
		http:            &http.Client{Timeout: 20 * time.Second},
		browserFallback: browserFallback,
	}
}

var (
	scriptStyleRe = regexp.MustCompile(`(?si)<(script|style|noscript|head)\b.*?</(script|style|noscript|head)>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	blankRe       = regexp.MustCompile(`\n{3,}`)
	spaceRe       = regexp.MustCompile(`[ \t]{2,}`)
)

// stripHTML reduces markup to plain text: drop script/style blocks, turn
// block-level closers into newlines, strip the remaining tags.
func stripHTML(html string) string {
	s := scriptStyleRe.ReplaceAllString(html, "")
	for _, tag := range []string{"</p>", "</div>", "</li>", "</h1>", "</h2>", "</h3>", "</tr>", "<br>", "<br/>", "<br />"} {
		s = strings.ReplaceAll(s, tag, tag+"\n")
	}
	s = tagRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(s)
	s = spaceRe.ReplaceAllString(s, " ")
	s = blankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Fetch returns the readable text of the page at rawURL.
func (w *WebFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("пустой URL")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}

	text, err := w.fetchStatic(ctx, rawURL)
	if err == nil && len([]rune(text)) >= 200 {
		return text, nil
	}

	if w.browserFallback {
		rendered, rerr := w.fetchRendered(ctx, rawURL)
		if rerr == nil && rendered != "" {
			return rendered, nil
		}
		slog.Warn("tools.webfetch.render_failed", "url", rawURL, "error", rerr)
	}

	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("страница пуста или требует JavaScript")
	}
	return text, nil
}

func (w *WebFetcher) fetchStatic(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; animara/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	resp, err := w.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("загрузка не удалась: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("страница вернула %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("чтение ответа: %w", err)
	}
	return stripHTML(string(data)), nil
}

func (w *WebFetcher) fetchRendered(ctx context.Context, rawURL string) (string, error) {
	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return "", fmt.Errorf("запуск браузера: %w", err)
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("подключение к браузеру: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: rawURL})
	if err != nil {
		return "", fmt.Errorf("открытие страницы: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("загрузка страницы: %w", err)
	}
	body, err := page.Element("body")
	if err != nil {
		return "", fmt.Errorf("нет body: %w", err)
	}
	text, err := body.Text()
	if err != nil {
		return "", fmt.Errorf("извлечение текста: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// NewWebFetchTool wraps the fetcher as a registered tool.
func NewWebFetchTool(w *WebFetcher) *Tool {
	return &Tool{
		Name:        "web_fetch",
		Description: "Открыть страницу по URL и вернуть её текст",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{"type": "string", "description": "Адрес страницы"},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return w.Fetch(ctx, stringArg(args, "url"))
		},
	}
}
