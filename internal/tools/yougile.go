package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animara-ai/animara/internal/config"
)

const yougileDefaultEndpoint = "https://ru.yougile.com/api-v2"

// YougileClient talks to the task-board HTTP API.
type YougileClient struct {
	endpoint  string
	apiKey    string
	columnID  string
	projectID string
	http      *http.Client
}

// NewYougileClient builds a client from config. The API key comes from the
// environment; an empty key disables the tools at registration time.
func NewYougileClient(cfg config.YougileConfig) *YougileClient {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = yougileDefaultEndpoint
	}
	return &YougileClient{
		endpoint:  endpoint,
		apiKey:    cfg.APIKey,
		columnID:  cfg.ColumnID,
		projectID: cfg.ProjectID,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether the client has credentials.
func (c *YougileClient) Enabled() bool { return c.apiKey != "" }

func (c *YougileClient) request(ctx context.Context, method, path string, query url.Values, body interface{}) (map[string]interface{}, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос не удался: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("неверный API ключ")
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("не найдено")
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("API %d: %s", resp.StatusCode, truncateASCII(string(data), 200))
	}

	out := map[string]interface{}{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("некорректный ответ API: %w", err)
		}
	}
	return out, nil
}

func truncateASCII(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

type yougileTask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Deadline  *struct {
		Deadline int64 `json:"deadline"`
	} `json:"deadline"`
}

func (c *YougileClient) listTasks(ctx context.Context, limit int) ([]yougileTask, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	q := url.Values{"limit": {fmt.Sprint(limit)}}
	if c.columnID != "" {
		q.Set("columnId", c.columnID)
	}
	raw, err := c.request(ctx, http.MethodGet, "/tasks", q, nil)
	if err != nil {
		return nil, err
	}
	content, _ := json.Marshal(raw["content"])
	var tasks []yougileTask
	if err := json.Unmarshal(content, &tasks); err != nil {
		return nil, fmt.Errorf("разбор списка задач: %w", err)
	}
	return tasks, nil
}

func formatTasks(tasks []yougileTask) string {
	if len(tasks) == 0 {
		return "Задач нет"
	}
	var b strings.Builder
	for i, t := range tasks {
		mark := "◻"
		if t.Completed {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%d. %s %s", i+1, mark, t.Title)
		if t.Deadline != nil && t.Deadline.Deadline > 0 {
			fmt.Fprintf(&b, " (до %s)", time.UnixMilli(t.Deadline.Deadline).Format("02.01"))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// YougileTools returns the three task-board tools backed by the client.
func YougileTools(c *YougileClient) []*Tool {
	return []*Tool{
		{
			Name:        "yougile_tasks",
			Description: "Список задач с доски. Используй когда спрашивают про задачи или список дел",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit": map[string]interface{}{"type": "integer", "description": "Сколько задач вернуть (по умолчанию 25)"},
				},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				limit := intArg(args, "limit", 25)
				tasks, err := c.listTasks(ctx, limit)
				if err != nil {
					return "", err
				}
				return formatTasks(tasks), nil
			},
		},
		{
			Name:        "yougile_find",
			Description: "Найти задачу по части названия",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{"type": "string", "description": "Текст для поиска в названиях"},
				},
				"required": []string{"query"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				query := strings.ToLower(strings.TrimSpace(stringArg(args, "query")))
				if query == "" {
					return "", fmt.Errorf("пустой поисковый запрос")
				}
				tasks, err := c.listTasks(ctx, 100)
				if err != nil {
					return "", err
				}
				var found []yougileTask
				for _, t := range tasks {
					if strings.Contains(strings.ToLower(t.Title), query) {
						found = append(found, t)
					}
				}
				if len(found) == 0 {
					return fmt.Sprintf("По запросу «%s» задач не найдено", query), nil
				}
				return formatTasks(found), nil
			},
		},
		{
			Name:        "yougile_create",
			Description: "Создать задачу на доске",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"title":       map[string]interface{}{"type": "string", "description": "Название задачи"},
					"description": map[string]interface{}{"type": "string", "description": "Описание (опционально)"},
				},
				"required": []string{"title"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
				title := strings.TrimSpace(stringArg(args, "title"))
				if title == "" {
					return "", fmt.Errorf("нужно название задачи")
				}
				if c.columnID == "" {
					return "", fmt.Errorf("не настроена колонка доски (tools.yougile.column_id)")
				}
				payload := map[string]interface{}{"title": title, "columnId": c.columnID}
				if d := strings.TrimSpace(stringArg(args, "description")); d != "" {
					payload["description"] = d
				}
				raw, err := c.request(ctx, http.MethodPost, "/tasks", nil, payload)
				if err != nil {
					return "", err
				}
				id, _ := raw["id"].(string)
				if len(id) > 8 {
					id = id[:8]
				}
				return fmt.Sprintf("✅ Задача создана: %s (ID: %s)", title, id), nil
			},
		},
	}
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
