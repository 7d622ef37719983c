package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/actumdigital/crm-mcp/internal/crm"
	"github.com/actumdigital/crm-mcp/pkg/types"
)

// Tool names.
const (
	ToolGetOpenOpportunities = "get_open_opportunities"
	ToolGetUsers             = "get_users"
	ToolGetDivisions         = "get_divisions"
)

// crmClient is the subset of crm.Client used by the MCP server. Using an
// interface keeps the package loosely coupled and testable.
type crmClient interface {
	ListOpenOpportunities(ctx context.Context, filter crm.OpportunityFilter) ([]crm.Opportunity, error)
	ListUsers(ctx context.Context) ([]crm.User, error)
	ListDivisions(ctx context.Context) ([]crm.Division, error)
}

// entityResolver is the subset of entitycache.Cache used by the MCP server.
type entityResolver interface {
	ResolveName(ctx context.Context, entityType types.EntityType, entityID string) string
	ResolveCustomerName(ctx context.Context, customerID string) string
	ResolveIDByName(ctx context.Context, entityType types.EntityType, searchName string) (string, bool)
}

// Server implements the Model Context Protocol for the CRM shim. It
// orchestrates the CRM client and the entity-resolution cache: name filters
// in, resolved display names out.
type Server struct {
	crm       crmClient
	resolver  entityResolver
	logger    *log.Logger
	sessionID string // unique ID generated once per server lifetime
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithLogger overrides the server logger. The default logs to stderr.
func WithLogger(l *log.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new MCP server instance.
func NewServer(client crmClient, resolver entityResolver, opts ...ServerOption) *Server {
	s := &Server{
		crm:       client,
		resolver:  resolver,
		logger:    log.New(os.Stderr, "crm-mcp: ", log.LstdFlags),
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Printf("session ID: %s", s.sessionID)
	return s
}

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err)
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized":
		// Notification; no response body required, return empty object.
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)

	// Native JSON-RPC methods for direct callers
	case ToolGetOpenOpportunities:
		result, err = s.handleGetOpenOpportunities(ctx, req.Params)
	case ToolGetUsers:
		result, err = s.handleGetUsers(ctx, req.Params)
	case ToolGetDivisions:
		result, err = s.handleGetDivisions(ctx, req.Params)

	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
	}

	if err != nil {
		return s.errorResponse(req.ID, ErrCodeServerError, err.Error(), nil)
	}
	return s.successResponse(req.ID, result)
}

// GetOpenOpportunities returns open opportunities with owner, customer, and
// division names resolved through the entity cache. Owner and division name
// filters are reverse-resolved to IDs first; a filter whose name cannot be
// resolved is logged and skipped, matching how the CRM UI treats a bad
// filter (show everything rather than nothing confusing).
func (s *Server) GetOpenOpportunities(ctx context.Context, args OpenOpportunitiesArgs) (*OpenOpportunitiesResult, error) {
	filter := crm.OpportunityFilter{Top: args.Top}

	if args.Owner != "" {
		if ownerID, ok := s.resolver.ResolveIDByName(ctx, types.EntityUser, args.Owner); ok {
			filter.OwnerID = ownerID
			s.logger.Printf("filtered by owner: %q -> %s", args.Owner, ownerID)
		} else {
			s.logger.Printf("warning: owner %q not found - ignoring filter", args.Owner)
		}
	}
	if args.Division != "" {
		if divisionID, ok := s.resolver.ResolveIDByName(ctx, types.EntityDivision, args.Division); ok {
			filter.DivisionID = divisionID
			s.logger.Printf("filtered by division: %q -> %s", args.Division, divisionID)
		} else {
			s.logger.Printf("warning: division %q not found - ignoring filter", args.Division)
		}
	}

	opportunities, err := s.crm.ListOpenOpportunities(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]OpportunityView, 0, len(opportunities))
	for _, opp := range opportunities {
		views = append(views, OpportunityView{
			Name:               opp.Name,
			StepName:           opp.StepName,
			CreatedOn:          opp.CreatedOn,
			ModifiedOn:         opp.ModifiedOn,
			EstimatedValueBase: opp.EstimatedValueBase,
			EstimatedCloseDate: opp.EstimatedCloseDate,
			OwnerName:          s.resolver.ResolveName(ctx, types.EntityUser, opp.OwnerID),
			CustomerName:       s.resolver.ResolveCustomerName(ctx, opp.CustomerID),
			DivisionName:       s.resolver.ResolveName(ctx, types.EntityDivision, opp.DivisionID),
		})
	}

	return &OpenOpportunitiesResult{Opportunities: views, Count: len(views)}, nil
}

// GetUsers returns all active users who can own opportunities.
func (s *Server) GetUsers(ctx context.Context) (*UsersResult, error) {
	users, err := s.crm.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, UserView{
			FullName:     u.FullName,
			DomainName:   u.DomainName,
			SystemUserID: u.SystemUserID,
		})
	}
	return &UsersResult{Users: views, Count: len(views)}, nil
}

// GetDivisions returns all active business units.
func (s *Server) GetDivisions(ctx context.Context) (*DivisionsResult, error) {
	divisions, err := s.crm.ListDivisions(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]DivisionView, 0, len(divisions))
	for _, d := range divisions {
		views = append(views, DivisionView{
			Name:           d.Name,
			DivisionName:   d.DivisionName,
			BusinessUnitID: d.BusinessUnitID,
		})
	}
	return &DivisionsResult{Divisions: views, Count: len(views)}, nil
}

// ---------------------------------------------------------------------------
// JSON-RPC handler wrappers
// ---------------------------------------------------------------------------

func (s *Server) handleGetOpenOpportunities(ctx context.Context, params interface{}) (interface{}, error) {
	var args OpenOpportunitiesArgs
	if params != nil {
		if err := s.unmarshalParams(params, &args); err != nil {
			return nil, err
		}
	}
	return s.GetOpenOpportunities(ctx, args)
}

func (s *Server) handleGetUsers(ctx context.Context, _ interface{}) (interface{}, error) {
	return s.GetUsers(ctx)
}

func (s *Server) handleGetDivisions(ctx context.Context, _ interface{}) (interface{}, error) {
	return s.GetDivisions(ctx)
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "crm-mcp",
			Version: "1.0.0",
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate handler
// and wraps the result in the MCP content envelope. Tool-level failures are
// reported as isError content, not protocol errors.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	s.logger.Printf("calling tool: %s", p.Name)

	var result interface{}
	var handlerErr error

	switch p.Name {
	case ToolGetOpenOpportunities:
		result, handlerErr = s.handleGetOpenOpportunities(ctx, p.Arguments)
	case ToolGetUsers:
		result, handlerErr = s.handleGetUsers(ctx, p.Arguments)
	case ToolGetDivisions:
		result, handlerErr = s.handleGetDivisions(ctx, p.Arguments)
	default:
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("Error: unsupported tool operation %q", p.Name)}},
			IsError: true,
		}, nil
	}

	if handlerErr != nil {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name: ToolGetOpenOpportunities,
			Description: "Get open opportunities with optional filtering by Owner and/or Division. " +
				"Returns opportunities with human-readable names for owners, customers, and divisions.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"top": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of records to return",
						"default":     1000,
					},
					"owner": map[string]interface{}{
						"type":        "string",
						"description": "Filter by owner name (e.g., 'John Smith'). Will be resolved to ID automatically",
					},
					"division": map[string]interface{}{
						"type":        "string",
						"description": "Filter by division name (e.g., 'Sales'). Will be resolved to ID automatically",
					},
				},
				"required": []string{},
			},
		},
		{
			Name: ToolGetUsers,
			Description: "Get all active users who can own opportunities. " +
				"Returns list of users with their full names, domain names, and system user IDs.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
				"required":   []string{},
			},
		},
		{
			Name: ToolGetDivisions,
			Description: "Get all active business units (divisions) from the CRM. " +
				"Returns list of divisions with names, division names, and business unit IDs.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
				"required":   []string{},
			},
		},
	}
}

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
