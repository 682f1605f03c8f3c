// Package api - HTTP-клиент удаленного сервиса с разбором конверта {success, data, message}.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ButyrinIA/community/internal/apperr"
	"github.com/ButyrinIA/community/internal/events"
	"github.com/ButyrinIA/community/internal/monitoring"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.allesgut.com/v1"
	DefaultTimeout = 10 * time.Second
)

// envelope - общий формат ответа сервиса
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	bus        *events.Bus

	mu    sync.RWMutex
	token string
}

// New создает клиента; bus может быть nil, тогда событие 401 никуда не публикуется
func New(baseURL string, timeout time.Duration, bus *events.Bus) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		bus:        bus,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken устанавливает bearer-токен для всех последующих запросов
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) ClearToken() {
	c.SetToken("")
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, path, out)
}

// Upload отправляет файл как multipart/form-data. onProgress получает процент отправленных байт.
func (c *Client) Upload(ctx context.Context, path, field, filename string, content io.Reader, size int64, onProgress func(int), out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile(field, filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := content
		if onProgress != nil && size > 0 {
			src = &progressReader{r: content, total: size, report: onProgress}
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, path, out)
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if pct := int(p.read * 100 / p.total); pct != p.last && pct <= 100 {
		p.last = pct
		p.report(pct)
	}
	return n, err
}

func (c *Client) do(req *http.Request, path string, out any) error {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	timer := prometheus.NewTimer(monitoring.RemoteCallDuration.WithLabelValues(req.Method))
	resp, err := c.httpClient.Do(req)
	timer.ObserveDuration()
	if err != nil {
		monitoring.RemoteCallsTotal.WithLabelValues(req.Method, "error").Inc()
		return fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()
	monitoring.RemoteCallsTotal.WithLabelValues(req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusUnauthorized {
		monitoring.UnauthorizedTotal.Inc()
		log.WithFields(log.Fields{"method": req.Method, "path": path}).Warn("Сервер отклонил авторизацию")
		if c.bus != nil {
			c.bus.Publish(events.TopicUnauthorized, path)
		}
		return fmt.Errorf("%s %s: %w", req.Method, path, apperr.ErrUnauthorized)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", req.Method, path, err)
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("%s %s: decode envelope: %w", req.Method, path, err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w", req.Method, path, &apperr.RemoteError{Status: resp.StatusCode, Message: env.Message})
	}
	if env.Success != nil && !*env.Success {
		return fmt.Errorf("%s %s: %w", req.Method, path, &apperr.RemoteError{Status: resp.StatusCode, Message: env.Message})
	}

	if out == nil {
		return nil
	}
	data := env.Data
	if env.Success == nil {
		// ответ без конверта
		data = raw
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", req.Method, path, err)
	}
	return nil
}

// Dial открывает websocket к пути сервиса с текущим токеном
func (c *Client) Dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if token := c.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			if c.bus != nil {
				c.bus.Publish(events.TopicUnauthorized, path)
			}
			return nil, fmt.Errorf("dial %s: %w", path, apperr.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return conn, nil
}
