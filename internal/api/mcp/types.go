// Package mcp implements the Model Context Protocol (MCP) server for the CRM
// shim. It exposes the three CRM read tools over JSON-RPC 2.0.
package mcp

// OpenOpportunitiesArgs contains arguments for the get_open_opportunities
// tool. Owner and Division are display names; they are resolved to IDs
// through the entity cache before the CRM query is built.
type OpenOpportunitiesArgs struct {
	Top      int    `json:"top,omitempty"`      // Maximum number of records (default 1000)
	Owner    string `json:"owner,omitempty"`    // Filter by owner name
	Division string `json:"division,omitempty"` // Filter by division name
}

// OpportunityView is one opportunity as presented to the tool caller: raw
// lookup IDs replaced by resolved display names.
type OpportunityView struct {
	Name               string   `json:"name"`
	StepName           string   `json:"stepname,omitempty"`
	CreatedOn          string   `json:"createdon,omitempty"`
	ModifiedOn         string   `json:"modifiedon,omitempty"`
	EstimatedValueBase *float64 `json:"estimatedvalue_base,omitempty"`
	EstimatedCloseDate string   `json:"estimatedclosedate,omitempty"`
	OwnerName          string   `json:"owner_name"`
	CustomerName       string   `json:"customer_name"`
	DivisionName       string   `json:"division_name"`
}

// OpenOpportunitiesResult contains the result of get_open_opportunities.
type OpenOpportunitiesResult struct {
	Opportunities []OpportunityView `json:"opportunities"`
	Count         int               `json:"count"`
}

// UsersResult contains the result of get_users.
type UsersResult struct {
	Users []UserView `json:"users"`
	Count int        `json:"count"`
}

// UserView is one active user.
type UserView struct {
	FullName     string `json:"fullname"`
	DomainName   string `json:"domainname"`
	SystemUserID string `json:"systemuserid"`
}

// DivisionsResult contains the result of get_divisions.
type DivisionsResult struct {
	Divisions []DivisionView `json:"divisions"`
	Count     int            `json:"count"`
}

// DivisionView is one active business unit.
type DivisionView struct {
	Name           string `json:"name"`
	DivisionName   string `json:"divisionname"`
	BusinessUnitID string `json:"businessunitid"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes.
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPInitializeParams holds the parameters sent by an MCP client in the
// initialize request.
type MCPInitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      MCPClientInfo          `json:"clientInfo"`
}

// MCPClientInfo identifies the connecting MCP client.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
