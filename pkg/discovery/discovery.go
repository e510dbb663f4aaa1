// Package discovery posts chunked HTML to the external sub-document
// classification webhook and parses its asynchronous callback.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/agenttic/agenttic/pkg/domain"
	"github.com/agenttic/agenttic/pkg/log"
)

// TaskName identifies our requests and callbacks among whatever else
// flows through the external workflow.
const TaskName = "agenttic_ingest"

// classifyPrompt instructs the external workflow on what counts as a
// child document worth recursing into.
const classifyPrompt = "From the raw HTML below, list the URLs of sub-documents " +
	"that belong to the same documentation set as the source page: child pages, " +
	"section pages, and API reference entries. Exclude navigation boilerplate, " +
	"external sites, and anchors within the same page."

// ChunkItem is one raw-HTML chunk of the outbound payload.
type ChunkItem struct {
	ChunkID string `json:"chunk_id"`
	Content string `json:"content"`
	Index   int    `json:"index"`
}

// Request is the payload posted to the discovery webhook.
type Request struct {
	DocumentName   string      `json:"document_name"`
	CollectionName string      `json:"collection_name"`
	URL            string      `json:"url"`
	TotalChunks    int         `json:"total_chunks"`
	TaskName       string      `json:"task_name"`
	Prompt         string      `json:"prompt"`
	DataList       []ChunkItem `json:"data_list"`
	RequestID      string      `json:"request_id"`
	RecursiveDepth int         `json:"recursive_depth"`
}

type Client struct {
	logger *log.Logger

	mu         sync.RWMutex
	httpClient *http.Client
	webhookURL string
}

func New(webhookURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		webhookURL: webhookURL,
		logger:     log.WithModule("discovery"),
	}
}

// SetEndpoint swaps the webhook URL and timeout. Applied live on config
// reload; in-flight posts keep the client they started with.
func (c *Client) SetEndpoint(webhookURL string, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webhookURL = webhookURL
	if timeout > 0 && timeout != c.httpClient.Timeout {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

func (c *Client) endpoint() (*http.Client, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient, c.webhookURL
}

// Enabled reports whether a webhook endpoint is configured.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	_, url := c.endpoint()
	return url != ""
}

// Post sends the raw-HTML chunks for classification. The webhook
// answers asynchronously via the callback endpoint; a 2xx here only
// acknowledges receipt.
func (c *Client) Post(ctx context.Context, req Request) error {
	if !c.Enabled() {
		return fmt.Errorf("%w: no webhook configured", domain.ErrConfigurationError)
	}
	req.TaskName = TaskName
	if req.Prompt == "" {
		req.Prompt = classifyPrompt
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal discovery request: %w", err)
	}

	httpClient, webhookURL := c.endpoint()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post discovery webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: webhook status %d: %s", domain.ErrServiceUnavailable, resp.StatusCode, raw)
	}

	c.logger.Info("posted discovery request",
		"request_id", req.RequestID, "url", req.URL, "chunks", len(req.DataList))
	return nil
}

// ParseCallback decodes a callback body, unwrapping the optional
// {"body": {...}} envelope some workflow engines add.
func ParseCallback(raw []byte) (*domain.CallbackRequest, error) {
	var envelope struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Body) > 0 {
		raw = envelope.Body
	}

	var cb domain.CallbackRequest
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, fmt.Errorf("%w: decode callback: %v", domain.ErrInvalidInput, err)
	}
	if cb.TaskName == "" {
		return nil, fmt.Errorf("%w: callback missing task_name", domain.ErrInvalidInput)
	}
	return &cb, nil
}

// SubDocs unions sub_docs across all output items, deduplicating while
// preserving first-seen order.
func SubDocs(cb *domain.CallbackRequest) []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range cb.Output {
		for _, u := range item.Response.SubDocs {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
