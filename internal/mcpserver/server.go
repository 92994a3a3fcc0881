// Package mcpserver offers the chat turn as an MCP tool so local agents and
// editors can hold a bounded, persisted conversation over stdio.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/calmchat/internal/apperr"
	"github.com/comigor/calmchat/internal/chat"
	"github.com/comigor/calmchat/internal/logger"
)

const toolName = "chat"

// Handler runs one chat turn.
type Handler interface {
	Handle(ctx context.Context, req chat.Request) (chat.Reply, error)
}

// Tools binds the chat handler to a fixed owner.
type Tools struct {
	chat    Handler
	ownerID string
}

func NewTools(h Handler, ownerID string) *Tools {
	return &Tools{chat: h, ownerID: ownerID}
}

// New returns an MCP server exposing the chat tool.
func New(t *Tools, version string) *server.MCPServer {
	s := server.NewMCPServer("calmchat", version, server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool(toolName,
		mcp.WithDescription("Send a message in a persisted conversation. Omit sessionId to start a new one; reuse the returned sessionId to continue it."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The user message.")),
		mcp.WithString("sessionId", mcp.Description("Conversation to continue.")),
	), t.Chat)
	return s
}

// Serve runs the server on stdin/stdout until the input closes.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// Chat is the tool handler. Failures come back as tool errors carrying the
// same message the HTTP API would report.
func (t *Tools) Chat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sessionID := request.GetString("sessionId", "")

	reply, err := t.chat.Handle(ctx, chat.Request{OwnerID: t.ownerID, SessionID: sessionID, Message: message})
	if err != nil {
		logger.L.Error("chat tool failed", "kind", apperr.KindOf(err).String(), "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := json.Marshal(map[string]string{"sessionId": reply.SessionID, "response": reply.Response})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}
