package agenthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
)

// Client talks to the control-plane agent that runs on Windows nodes. Every
// call carries the node's bearer token and is bounded by a 60s timeout.
type Client struct {
	http *http.Client
}

var _ ports.AgentClient = (*Client)(nil)

func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 60 * time.Second}}
}

func (c *Client) Execute(ctx context.Context, desc domain.NodeDescriptor, command string) (ports.AgentResponse, error) {
	return c.post(ctx, desc, "/api/execute", map[string]any{"command": command})
}

func (c *Client) Health(ctx context.Context, desc domain.NodeDescriptor) (ports.AgentResponse, error) {
	return c.do(ctx, desc, http.MethodGet, "/api/health", nil)
}

func (c *Client) Generate(ctx context.Context, desc domain.NodeDescriptor, payload map[string]any) (ports.AgentResponse, error) {
	return c.post(ctx, desc, "/api/ai/generate", payload)
}

func (c *Client) post(ctx context.Context, desc domain.NodeDescriptor, path string, payload map[string]any) (ports.AgentResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return ports.AgentResponse{}, fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, desc, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, desc domain.NodeDescriptor, method string, path string, body []byte) (ports.AgentResponse, error) {
	port := desc.AgentPort
	if port == 0 {
		port = desc.Port
	}
	url := "http://" + net.JoinHostPort(desc.Host, strconv.Itoa(port)) + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return ports.AgentResponse{}, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if desc.AgentToken != "" {
		req.Header.Set("Authorization", "Bearer "+desc.AgentToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ports.AgentResponse{}, fmt.Errorf("agent not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.AgentResponse{}, fmt.Errorf("read response: %w", err)
	}
	return ports.AgentResponse{StatusCode: resp.StatusCode, Body: string(data)}, nil
}
