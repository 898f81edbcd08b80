// Remote Tool Service Client.
//
// Information Hiding:
// - HTTP transport and request encoding hidden
// - Loose response decoding (string or JSON output, optional success) hidden
// - Tool discovery endpoint layout hidden

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/richinex/deepresearch/model"
)

// maxResponseBytes caps a single tool response body.
const maxResponseBytes = 8 << 20

// RemoteTool invokes a tool hosted by an HTTP tool service.
// The request is POST <base>/tools/<name> with {"parameters":..., "context":...}.
type RemoteTool struct {
	meta    ToolMetadata
	baseURL string
	client  *http.Client
}

// NewRemoteTool creates a client for one remote tool.
func NewRemoteTool(baseURL string, meta ToolMetadata, timeout time.Duration) *RemoteTool {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &RemoteTool{
		meta:    meta,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (t *RemoteTool) WithHTTPClient(c *http.Client) *RemoteTool {
	t.client = c
	return t
}

// Metadata returns the tool metadata.
func (t *RemoteTool) Metadata() ToolMetadata {
	return t.meta
}

type remoteRequest struct {
	Parameters map[string]any `json:"parameters"`
	Context    Hints          `json:"context"`
}

// Invoke posts the call to the service.
func (t *RemoteTool) Invoke(ctx context.Context, params map[string]any, hints Hints) (Result, error) {
	body, err := json.Marshal(remoteRequest{Parameters: params, Context: hints})
	if err != nil {
		return FailureResult(fmt.Errorf("invalid parameters: %w", err)), nil
	}

	endpoint := t.baseURL + "/tools/" + t.meta.Name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("tool service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FailureResultf("tool service error: %s\n\n%s", resp.Status, strings.TrimSpace(string(data))), nil
	}
	return decodeRemoteResult(data), nil
}

// decodeRemoteResult accepts {success?, output, sources?, error?}. A body
// that is not JSON is taken as plain output.
func decodeRemoteResult(data []byte) Result {
	if !gjson.ValidBytes(data) {
		out := strings.TrimSpace(string(data))
		return Result{Success: out != "", Output: out}
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return Result{Success: true, Output: doc.Raw}
	}

	var res Result
	switch out := doc.Get("output"); out.Type {
	case gjson.Null:
	case gjson.String:
		res.Output = out.String()
	default:
		res.Output = out.Raw
	}

	if s := doc.Get("success"); s.Exists() {
		res.Success = s.Bool()
	} else {
		res.Success = res.Output != ""
	}
	if res.Output == "" {
		if msg := doc.Get("error"); msg.Exists() {
			res.Output = msg.String()
			res.Success = false
		}
	}

	res.Sources = parseSources(doc.Get("sources"))
	return res
}

// parseSources reads [{title, url, description}] entries; entries without
// a URL are dropped.
func parseSources(arr gjson.Result) []model.Source {
	if !arr.IsArray() {
		return nil
	}
	var sources []model.Source
	arr.ForEach(func(_, v gjson.Result) bool {
		u := v.Get("url").String()
		if u == "" {
			u = v.Get("link").String()
		}
		if u == "" {
			return true
		}
		title := v.Get("title").String()
		if title == "" {
			title = u
		}
		sources = append(sources, model.Source{
			Title:       title,
			URL:         u,
			Description: firstNonEmpty(v.Get("description").String(), v.Get("snippet").String()),
		})
		return true
	})
	return sources
}

// DiscoverRemoteTools lists the tools exposed by a service at GET <base>/tools.
func DiscoverRemoteTools(ctx context.Context, baseURL string, timeout time.Duration) ([]*RemoteTool, error) {
	base := strings.TrimRight(baseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool discovery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool discovery failed: %s", resp.Status)
	}

	var listing struct {
		Tools []ToolMetadata `json:"tools"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode tool listing: %w", err)
	}

	out := make([]*RemoteTool, 0, len(listing.Tools))
	for _, meta := range listing.Tools {
		if meta.Name == "" {
			continue
		}
		out = append(out, NewRemoteTool(base, meta, timeout))
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Tool = (*RemoteTool)(nil)
