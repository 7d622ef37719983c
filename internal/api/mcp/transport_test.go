package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actumdigital/crm-mcp/internal/api/mcp"
)

// serveInput runs the transport over the given input until EOF and returns
// the decoded response frames in order.
func serveInput(t *testing.T, input string) []mcp.JSONRPCResponse {
	t.Helper()

	s := mcp.NewServer(&mockCRM{}, &mockResolver{}, mcp.WithLogger(log.New(io.Discard, "", 0)))
	var out bytes.Buffer
	transport := mcp.NewStdioTransport(s, strings.NewReader(input), &out)

	require.NoError(t, transport.Serve(context.Background()))

	var responses []mcp.JSONRPCResponse
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp mcp.JSONRPCResponse
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "response line is not valid JSON: %q", line)
		responses = append(responses, resp)
	}
	return responses
}

func TestStdioTransport_OneResponsePerRequestLine(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"tools/list","id":1}` + "\n" +
		`{"jsonrpc":"2.0","method":"get_users","id":2}` + "\n"

	responses := serveInput(t, input)
	require.Len(t, responses, 2)
	assert.Equal(t, float64(1), responses[0].ID)
	assert.Equal(t, float64(2), responses[1].ID)
	assert.Nil(t, responses[0].Error)
	assert.Nil(t, responses[1].Error)
}

func TestStdioTransport_BlankLinesSkipped(t *testing.T) {
	input := "\n\n" + `{"jsonrpc":"2.0","method":"tools/list","id":1}` + "\n\n"

	responses := serveInput(t, input)
	require.Len(t, responses, 1)
	assert.Equal(t, float64(1), responses[0].ID)
}

func TestStdioTransport_MalformedLineStillAnswered(t *testing.T) {
	input := "this is not json\n" + `{"jsonrpc":"2.0","method":"tools/list","id":1}` + "\n"

	responses := serveInput(t, input)
	require.Len(t, responses, 2)

	require.NotNil(t, responses[0].Error)
	assert.Equal(t, mcp.ErrCodeParseError, responses[0].Error.Code)

	// A bad line must not poison the stream for the next request.
	assert.Nil(t, responses[1].Error)
}

func TestStdioTransport_EOFIsCleanShutdown(t *testing.T) {
	s := mcp.NewServer(&mockCRM{}, &mockResolver{}, mcp.WithLogger(log.New(io.Discard, "", 0)))
	transport := mcp.NewStdioTransport(s, strings.NewReader(""), &bytes.Buffer{})

	assert.NoError(t, transport.Serve(context.Background()))
}

func TestStdioTransport_ContextCancellation(t *testing.T) {
	s := mcp.NewServer(&mockCRM{}, &mockResolver{}, mcp.WithLogger(log.New(io.Discard, "", 0)))
	transport := mcp.NewStdioTransport(s, strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`+"\n"), &bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, transport.Serve(ctx), context.Canceled)
}
