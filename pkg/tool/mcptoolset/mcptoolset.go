// Package mcptoolset exposes an MCP server as a tool provider.
//
// MCP (Model Context Protocol) allows connecting to external tool servers
// that expose tools via a standardized protocol.
//
// The provider uses lazy initialization - the MCP connection is only
// established when Tools() is first called. Listing failures carry the
// provider's identity so the failover supervisor can attribute them.
//
// Transport Support:
//   - stdio: Uses mcp-go library for subprocess communication
//   - http: Uses the retrying httpclient with JSON-RPC over POST
package mcptoolset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/relaykit/relay/pkg/httpclient"
	"github.com/relaykit/relay/pkg/runtime"
	"github.com/relaykit/relay/pkg/tool"
)

const (
	// DefaultSSEResponseTimeout bounds SSE response reads. Five minutes
	// accommodates long-running tool calls.
	DefaultSSEResponseTimeout = 5 * time.Minute

	protocolVersion = "2024-11-05"
	clientName      = "relay"
	clientVersion   = "1.0.0"
)

// Config configures an MCP provider.
type Config struct {
	// Name identifies this provider for failover attribution.
	Name string

	// Label is the human-readable name used in client-facing messages.
	Label string

	// URL is the MCP server URL (for the http transport).
	URL string

	// Command for stdio transport.
	Command string

	// Args for stdio transport.
	Args []string

	// Env for stdio transport.
	Env map[string]string

	// Headers for the http transport.
	Headers map[string]string

	// MaxRetries for HTTP requests (default: 3).
	MaxRetries int

	// SSETimeout for SSE response reading (default: 5m).
	SSETimeout time.Duration
}

// Provider is an MCP-backed tool provider with lazy initialization.
type Provider struct {
	cfg Config

	mu         sync.Mutex
	client     *client.Client     // stdio transport
	httpClient *httpclient.Client // http transport
	tools      []tool.Tool
	connected  bool

	sessionMu sync.RWMutex
	sessionID string // streamable-http session
}

// New creates a new MCP provider.
func New(cfg Config) (*Provider, error) {
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("either url or command is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}

	if cfg.Label == "" {
		cfg.Label = cfg.Name
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.SSETimeout == 0 {
		cfg.SSETimeout = DefaultSSEResponseTimeout
	}

	return &Provider{cfg: cfg}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.cfg.Name
}

// Label returns the human-readable provider name.
func (p *Provider) Label() string {
	return p.cfg.Label
}

// Tools returns the available tools, connecting lazily if needed.
// Connection and listing failures carry the provider name, the identifier
// the supervisor disables on the retried run; the display label is resolved
// from configuration when the failure is reported.
func (p *Provider) Tools(ctx context.Context) ([]tool.Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		if err := p.connect(ctx); err != nil {
			return nil, runtime.NewToolListError(p.cfg.Name, err)
		}
	}

	return p.tools, nil
}

// connect establishes the MCP connection.
func (p *Provider) connect(ctx context.Context) error {
	if p.cfg.Command != "" {
		return p.connectStdio(ctx)
	}
	return p.connectHTTP(ctx)
}

// connectStdio connects using mcp-go for subprocess communication.
func (p *Provider) connectStdio(ctx context.Context) error {
	mcpClient, err := client.NewStdioMCPClient(
		p.cfg.Command,
		convertEnv(p.cfg.Env),
		p.cfg.Args...,
	)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initReq.Params.ProtocolVersion = protocolVersion

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]tool.Tool, 0, len(listResp.Tools))
	for _, mt := range listResp.Tools {
		tools = append(tools, &mcpTool{
			provider: p,
			name:     mt.Name,
			desc:     mt.Description,
			schema:   convertSchema(mt.InputSchema),
			useStdio: true,
		})
	}

	p.client = mcpClient
	p.tools = tools
	p.connected = true

	slog.Info("Connected to MCP server (stdio)",
		"provider", p.cfg.Name,
		"command", p.cfg.Command,
		"tools", len(tools),
	)

	return nil
}

// connectHTTP connects using the retrying httpclient.
func (p *Provider) connectHTTP(ctx context.Context) error {
	p.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(p.cfg.MaxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	initResp, err := p.makeHTTPRequest(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP: %w", err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error: %s", initResp.Error.Message)
	}

	listResp, err := p.makeHTTPRequest(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response")
	}

	var tools []tool.Tool
	for _, toolRaw := range toolsList {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}

		name, _ := toolMap["name"].(string)
		desc, _ := toolMap["description"].(string)
		var schema map[string]any
		if inputSchema, ok := toolMap["inputSchema"].(map[string]any); ok {
			schema = inputSchema
		}

		tools = append(tools, &mcpTool{
			provider: p,
			name:     name,
			desc:     desc,
			schema:   schema,
		})
	}

	p.tools = tools
	p.connected = true

	slog.Info("Connected to MCP server (HTTP)",
		"provider", p.cfg.Name,
		"url", p.cfg.URL,
		"tools", len(tools),
	)

	return nil
}

// JSON-RPC types
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// makeHTTPRequest sends a JSON-RPC request over HTTP with retry/backoff.
func (p *Provider) makeHTTPRequest(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range p.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	p.sessionMu.RLock()
	sessionID := p.sessionID
	p.sessionMu.RUnlock()
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		slog.Debug("MCP HTTP request failed",
			"provider", p.cfg.Name,
			"method", method,
			"error", err.Error())
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		p.sessionMu.Lock()
		p.sessionID = newSessionID
		p.sessionMu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s (response: %s)", httpResp.StatusCode, httpResp.Status, string(responseBody))
	}

	if strings.Contains(httpResp.Header.Get("Content-Type"), "text/event-stream") {
		return p.readSSEResponse(httpResp)
	}

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &resp, nil
}

// readSSEResponse reads the first complete JSON-RPC response from an SSE stream.
func (p *Provider) readSSEResponse(httpResp *http.Response) (*jsonRPCResponse, error) {
	type result struct {
		response *jsonRPCResponse
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		defer httpResp.Body.Close()

		reader := bufio.NewReader(httpResp.Body)
		var currentData strings.Builder

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err != io.EOF {
					slog.Debug("MCP SSE read error", "provider", p.cfg.Name, "error", err)
				}
				break
			}

			lineStr := strings.TrimSpace(string(line))

			// Empty line signals end of event
			if lineStr == "" {
				if currentData.Len() > 0 {
					var resp jsonRPCResponse
					if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
						resultChan <- result{response: &resp}
						return
					}
					currentData.Reset()
				}
				continue
			}

			if strings.HasPrefix(lineStr, "data:") {
				currentData.WriteString(strings.TrimSpace(strings.TrimPrefix(lineStr, "data:")))
			}
		}

		if currentData.Len() > 0 {
			var resp jsonRPCResponse
			if parseErr := json.Unmarshal([]byte(currentData.String()), &resp); parseErr == nil {
				resultChan <- result{response: &resp}
				return
			}
		}

		resultChan <- result{err: fmt.Errorf("SSE stream ended without complete message")}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, res.err
		}
		return res.response, nil
	case <-time.After(p.cfg.SSETimeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", p.cfg.SSETimeout)
	}
}

// convertEnv converts map to slice of "KEY=VALUE".
func convertEnv(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// Close closes the MCP connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connected = false
	p.tools = nil
	p.httpClient = nil
	if p.client != nil {
		err := p.client.Close()
		p.client = nil
		return err
	}
	return nil
}

// mcpTool wraps one MCP tool as a tool.Tool.
type mcpTool struct {
	provider *Provider
	name     string
	desc     string
	schema   map[string]any
	useStdio bool
}

func (w *mcpTool) Name() string {
	return w.name
}

func (w *mcpTool) Description() string {
	return w.desc
}

func (w *mcpTool) Schema() map[string]any {
	return w.schema
}

// Call executes the tool and returns its text content (or an error message
// the model can read).
func (w *mcpTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if w.useStdio {
		return w.callStdio(ctx, args)
	}
	return w.callHTTP(ctx, args)
}

// callStdio executes the tool via the mcp-go client.
func (w *mcpTool) callStdio(ctx context.Context, args map[string]any) (string, error) {
	w.provider.mu.Lock()
	mcpClient := w.provider.client
	w.provider.mu.Unlock()

	if mcpClient == nil {
		return "", fmt.Errorf("MCP client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = w.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	texts := make([]string, 0, len(resp.Content))
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	if resp.IsError {
		if joined == "" {
			joined = "unknown error"
		}
		return fmt.Sprintf("error: %s", joined), nil
	}
	return joined, nil
}

// callHTTP executes the tool via JSON-RPC over HTTP.
func (w *mcpTool) callHTTP(ctx context.Context, args map[string]any) (string, error) {
	resp, err := w.provider.makeHTTPRequest(ctx, "tools/call", map[string]any{
		"name":      w.name,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("MCP call failed: %w", err)
	}

	if resp.Error != nil {
		return fmt.Sprintf("error: %s", resp.Error.Message), nil
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		data, _ := json.Marshal(resp.Result)
		return string(data), nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok {
				if cm["type"] == "text" {
					if text, ok := cm["text"].(string); ok {
						texts = append(texts, text)
					}
				}
			}
		}
	}
	joined := strings.Join(texts, "\n")

	if isError, _ := resultMap["isError"].(bool); isError {
		if joined == "" {
			joined = "unknown error"
		}
		return fmt.Sprintf("error: %s", joined), nil
	}
	return joined, nil
}

// convertSchema converts MCP tool schema to map.
func convertSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}

	return result
}

var (
	_ tool.Provider = (*Provider)(nil)
	_ tool.Tool     = (*mcpTool)(nil)
)
