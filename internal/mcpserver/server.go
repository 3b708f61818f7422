// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the Tiwaz operation catalogue as tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tiwaz/internal/apperr"
	"github.com/starford/tiwaz/internal/identity"
	"github.com/starford/tiwaz/internal/ops"
	"github.com/starford/tiwaz/internal/recordfile"
)

// RecordFormatURI is the resource serving the record file contract.
const RecordFormatURI = "tiwaz://record-format"

// Server wraps the MCP server with one tool per catalogue operation.
type Server struct {
	mcp   *server.MCPServer
	ops   *ops.Pipeline
	user  string
	tools map[string]server.ToolHandlerFunc
}

// New creates an MCP server over the pipeline. Stdio has no
// authentication, so every call acts as user.
func New(p *ops.Pipeline, user, version string) *Server {
	s := &Server{ops: p, user: user, tools: make(map[string]server.ToolHandlerFunc)}

	s.mcp = server.NewMCPServer(
		"Tiwaz",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	for _, op := range p.Registry().All() {
		s.addTool(toolFor(op), s.invoke(op.Name))
	}

	s.addTool(mcp.NewTool("getRecordFormat",
		mcp.WithDescription("Returns the record file format. "+
			"Call this before saving records to learn how field values are laid out."),
	), s.getRecordFormat)

	s.mcp.AddResource(
		mcp.NewResource(RecordFormatURI, "Record Format",
			mcp.WithResourceDescription("Markdown layout of record files in the vault."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ToolNames lists the registered tools.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.tools))
	for n := range s.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Server) addTool(tool mcp.Tool, h server.ToolHandlerFunc) {
	s.tools[tool.Name] = h
	s.mcp.AddTool(tool, h)
}

// toolFor derives the tool schema from an operation's parameters.
func toolFor(op ops.Operation) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(op.Description)}
	for _, p := range op.Params {
		popts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			popts = append(popts, mcp.Required())
		}
		switch p.Type {
		case ops.TypeNumber:
			opts = append(opts, mcp.WithNumber(p.Name, popts...))
		case ops.TypeBoolean:
			opts = append(opts, mcp.WithBoolean(p.Name, popts...))
		case ops.TypeArray:
			opts = append(opts, mcp.WithArray(p.Name, popts...))
		case ops.TypeObject:
			opts = append(opts, mcp.WithObject(p.Name, popts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	return mcp.NewTool(op.Name, opts...)
}

func (s *Server) invoke(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return mcp.NewToolResultError("Invalid arguments."), nil
		}
		out, err := s.ops.Invoke(identity.WithUser(ctx, s.user), name, raw)
		if err != nil {
			return mcp.NewToolResultError(apperr.Public(err)), nil
		}
		if text, ok := out.(string); ok {
			return mcp.NewToolResultText(text), nil
		}
		body, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(apperr.GenericMessage), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}

func (s *Server) getRecordFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(recordfile.FormatContract), nil
}

func (s *Server) readRecordFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      RecordFormatURI,
			MIMEType: "text/markdown",
			Text:     recordfile.FormatContract,
		},
	}, nil
}
