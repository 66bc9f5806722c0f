// Package mcp is the tool layer: orchestrator client, tool indexing with
// generated tags, group-based access control, and the per-user worker pool.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/arcfault/switchboard/pkg/models"
)

// Client talks to the external tool orchestrator over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates the orchestrator client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type serverList struct {
	Servers []models.MCPServer `json:"servers"`
}

type toolList struct {
	Tools []models.ToolDescriptor `json:"tools"`
}

type executeRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
	UserID    string          `json:"user_id,omitempty"`
}

type executeResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// ListServers returns the orchestrator's registered tool servers.
func (c *Client) ListServers(ctx context.Context) ([]models.MCPServer, error) {
	var out serverList
	if err := c.get(ctx, "/servers", &out); err != nil {
		return nil, err
	}
	return out.Servers, nil
}

// GetServerTools returns the tool descriptors one server exposes.
func (c *Client) GetServerTools(ctx context.Context, serverID string) ([]models.ToolDescriptor, error) {
	var out toolList
	if err := c.get(ctx, "/servers/"+serverID+"/tools", &out); err != nil {
		return nil, err
	}
	for i := range out.Tools {
		out.Tools[i].ServerID = serverID
		if out.Tools[i].ID == "" {
			out.Tools[i].ID = serverID + "." + out.Tools[i].Name
		}
	}
	return out.Tools, nil
}

// ExecuteTool runs one tool call and returns its raw result.
func (c *Client) ExecuteTool(ctx context.Context, serverID, tool string, args json.RawMessage, userID string) (json.RawMessage, error) {
	body, err := json.Marshal(executeRequest{Tool: tool, Arguments: args, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/servers/"+serverID+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcp: execute %s.%s: %w", serverID, tool, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("mcp: execute %s.%s: status %d: %s", serverID, tool, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mcp: decode execute response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("mcp: tool %s.%s failed: %s", serverID, tool, out.Error)
	}
	return out.Result, nil
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp: GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
