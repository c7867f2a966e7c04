// Package svitlo talks to the regional utility's interruption API.
package svitlo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

const (
	DefaultBaseURL = "https://interruptions.energy.cn.ua"
	defaultTimeout = 15 * time.Second

	statusPath   = "/api/info_disable"
	queuePath    = "/api/queue_info"
	schedulePath = "/api/grafik"

	maxBodyBytes = 1 << 20
)

var (
	// ErrUnavailable covers transport failures, non-200 responses and
	// unparseable bodies. Callers treat it as a transient skip.
	ErrUnavailable = errors.New("svitlo: upstream unavailable")
	// ErrBadStatus means the upstream answered but reported a non-ok status.
	ErrBadStatus = errors.New("svitlo: upstream reported failure")
)

// Config configures the upstream client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the HTTP client for the interruption API. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// FetchStatus fetches the current interruption status for a personal account.
func (c *Client) FetchStatus(ctx context.Context, account string) (*StatusPayload, error) {
	raw, err := c.post(ctx, statusPath, map[string]any{
		"person_accnt": account,
		"token":        nil,
	})
	if err != nil {
		return nil, err
	}
	return &StatusPayload{Raw: raw, Entries: ExtractEntries(raw)}, nil
}

// FetchQueue looks up the street and queue code behind a personal account.
// Used once at subscribe time.
func (c *Client) FetchQueue(ctx context.Context, account string) (*QueueInfo, error) {
	raw, err := c.post(ctx, queuePath, map[string]any{
		"person_accnt": account,
		"token":        nil,
	})
	if err != nil {
		return nil, err
	}
	var info QueueInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%w: decoding queue info: %v", ErrUnavailable, err)
	}
	if info.Street == "" || info.Queues == "" {
		return nil, fmt.Errorf("%w: incomplete queue info", ErrBadStatus)
	}
	return &info, nil
}

// FetchDailySchedule fetches the full day schedule for a queue.
// Date is formatted YYYY-MM-DD.
func (c *Client) FetchDailySchedule(ctx context.Context, queueCode, date string) (*DaySchedule, error) {
	raw, err := c.post(ctx, schedulePath, map[string]any{
		"queue": queueCode,
		"date":  date,
		"token": nil,
	})
	if err != nil {
		return nil, err
	}
	var body struct {
		AData  []DaySlot         `json:"aData"`
		AState map[string]string `json:"aState"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: decoding schedule: %v", ErrUnavailable, err)
	}
	return &DaySchedule{Raw: raw, Slots: body.AData, States: body.AState}, nil
}

// post sends a JSON POST and returns the verified payload bytes. The upstream
// sometimes double-encodes its body (a JSON string containing JSON); both
// forms are accepted. Any payload whose status field is not "ok" is rejected.
func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}

	raw, err = unwrapBody(raw)
	if err != nil {
		return nil, err
	}

	var head struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrUnavailable, err)
	}
	if head.Status != "ok" {
		return nil, fmt.Errorf("%w: status %q", ErrBadStatus, head.Status)
	}
	return raw, nil
}

// unwrapBody normalizes a possibly double-encoded JSON body to object bytes.
func unwrapBody(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnavailable)
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, fmt.Errorf("%w: unwrapping body: %v", ErrUnavailable, err)
	}
	inner = strings.TrimSpace(inner)
	if inner == "" || (inner[0] != '{' && inner[0] != '[') {
		return nil, fmt.Errorf("%w: body is not JSON", ErrUnavailable)
	}
	return []byte(inner), nil
}
