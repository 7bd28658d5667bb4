package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/accfleet/accfleet/pkg/client"
)

// Server adapts accfleet-d to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"accfleet",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	// accfleet://fleet
	s.mcpServer.AddResource(mcp.NewResource(
		"accfleet://fleet",
		"Account Fleet Status",
		mcp.WithResourceDescription("Per-account sessions, tasks and in-force cooldowns"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadFleet)

	// accfleet://events
	s.mcpServer.AddResource(mcp.NewResource(
		"accfleet://events",
		"Accfleet Event Log",
		mcp.WithResourceDescription("Recent orchestration events: cooldowns, sessions, tasks"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadEvents)
}

// --- Tools ---

func (s *Server) registerTools() {
	// record_cooldown
	s.mcpServer.AddTool(mcp.NewTool(
		"record_cooldown",
		mcp.WithDescription("Record an externally observed rate limit for an account"),
		mcp.WithString("account", mcp.Required(), mcp.Description("The rate-limited account")),
		mcp.WithString("class", mcp.Required(), mcp.Description("The rate-limit class (e.g. 'flood-wait', 'group-join')")),
		mcp.WithNumber("seconds", mcp.Required(), mcp.Description("Cooldown length in seconds")),
	), s.handleRecordCooldown)

	// start_warmup
	s.mcpServer.AddTool(mcp.NewTool(
		"start_warmup",
		mcp.WithDescription("Launch the warmup workflow for an account. Fails if one is already running."),
		mcp.WithString("account", mcp.Required(), mcp.Description("The account to warm up")),
	), s.handleStartWarmup)

	// cancel_warmup
	s.mcpServer.AddTool(mcp.NewTool(
		"cancel_warmup",
		mcp.WithDescription("Cancel the running warmup for an account and wait for it to stop"),
		mcp.WithString("account", mcp.Required(), mcp.Description("The account whose warmup to cancel")),
	), s.handleCancelWarmup)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"accfleet-aware",
		mcp.WithPromptDescription("Provides context about Accfleet concepts (Accounts, Cooldowns, Warmups)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadFleet(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	fleet, err := s.apiClient.Fleet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fleet: %w", err)
	}

	data, err := json.MarshalIndent(fleet, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fleet: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadEvents(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	events, err := s.apiClient.GetEvents(ctx, client.EventsOptions{Limit: 50})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal events: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleRecordCooldown(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := mcp.ParseString(request, "account", "")
	class := mcp.ParseString(request, "class", "")
	seconds := mcp.ParseFloat64(request, "seconds", 0)

	receipt, err := s.apiClient.RecordCooldown(ctx, client.Cooldown{
		Account: account,
		Class:   class,
		Seconds: seconds,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	resultMsg := fmt.Sprintf("Cooldown recorded for %s (%s), available at %s",
		receipt.Account, receipt.Class, receipt.AvailableAt.Format("2006-01-02 15:04:05 MST"))
	return mcp.NewToolResultText(resultMsg), nil
}

func (s *Server) handleStartWarmup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := mcp.ParseString(request, "account", "")

	receipt, err := s.apiClient.StartWarmup(ctx, account)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Warmup %s for %s", receipt.Status, receipt.Account)), nil
}

func (s *Server) handleCancelWarmup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := mcp.ParseString(request, "account", "")

	if err := s.apiClient.CancelWarmup(ctx, account); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Warmup cancelled for %s", account)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "accfleet-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are interacting with Accfleet, a daemon orchestrating a fleet of rate-limited accounts.

Concepts:
- Account: An externally rate-limited identity the daemon holds a session for.
- Cooldown: A per-account, per-class embargo after the remote service said "slow down".
- Class: An independent throttle dimension (e.g. 'flood-wait' for everything, 'group-join' for joins).
- Warmup: A supervised background workflow that exercises an account step by step.

When the remote service reports a rate limit, use the 'record_cooldown' tool so the
daemon stops scheduling that account. Use 'start_warmup'/'cancel_warmup' to manage
background work. Read accfleet://fleet to see which accounts are usable right now.
`

	return mcp.NewGetPromptResult(
		"accfleet-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
