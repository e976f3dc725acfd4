// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the rule store as tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/rulestore/internal/apperr"
	"github.com/starford/rulestore/internal/checksum"
	"github.com/starford/rulestore/internal/models"
)

// Store is the part of the store the tools operate on.
type Store interface {
	RawFileList() []models.File
	Count() int
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) models.File
	UpdateFile(name string, data []byte) (models.File, error)
	RemoveFile(name string) error
	RenameFile(name, newName string) error
	MoveTo(from, to string) error
	SetSelected(name string, selected bool) error
	Resync(name string) error
	GetProperty(key string) (any, bool)
	SetProperty(key string, v any) error
	RemoveProperty(key string) error
	Properties() map[string]any
}

// Server wraps the MCP server with the store tools.
type Server struct {
	mcp    *server.MCPServer
	store  Store
	logger *slog.Logger
}

// fileInfo is one entry of the list_files result.
type fileInfo struct {
	Index    uint64 `json:"index"`
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Checksum string `json:"checksum"`
	Selected bool   `json:"selected,omitempty"`
}

// New creates a new MCP server with all store tools registered.
func New(store Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: store, logger: logger}

	s.mcp = server.NewMCPServer(
		"rulestore",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_files",
		mcp.WithDescription("List all files in display order with index, size and SHA-256 checksum."),
	), s.listFiles)

	s.mcp.AddTool(mcp.NewTool("count_files",
		mcp.WithDescription("Return the number of files."),
	), s.countFiles)

	s.mcp.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read the content of a file. Binary content is returned as a base64 data URI."),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
	), s.readFile)

	s.mcp.AddTool(mcp.NewTool("write_file",
		mcp.WithDescription("Create a file or replace its content. New files are appended to the display order."),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text content, or a base64 data URI for binary content")),
	), s.writeFile)

	s.mcp.AddTool(mcp.NewTool("update_file",
		mcp.WithDescription("Replace the content of an existing file. Fails when the file does not exist."),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Text content, or a base64 data URI for binary content")),
	), s.updateFile)

	s.mcp.AddTool(mcp.NewTool("remove_file",
		mcp.WithDescription("Delete a file."),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
	), s.removeFile)

	s.mcp.AddTool(mcp.NewTool("rename_file",
		mcp.WithDescription("Rename a file. It keeps its content and display position."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Current file name")),
		mcp.WithString("new_name", mcp.Required(), mcp.Description("New file name")),
	), s.renameFile)

	s.mcp.AddTool(mcp.NewTool("move_file",
		mcp.WithDescription("Move a file to the display position currently held by another file."),
		mcp.WithString("from", mcp.Required(), mcp.Description("File to move")),
		mcp.WithString("to", mcp.Required(), mcp.Description("File whose position it takes")),
	), s.moveFile)

	s.mcp.AddTool(mcp.NewTool("select_file",
		mcp.WithDescription("Mark a file as selected or clear the mark. The mark is kept in memory and shown by list_files."),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
		mcp.WithBoolean("selected", mcp.Description("New selection state, true when omitted")),
	), s.selectFile)

	s.mcp.AddTool(mcp.NewTool("resync_file",
		mcp.WithDescription("Rewrite the stored copy of a file from memory."),
		mcp.WithString("name", mcp.Required(), mcp.Description("File name")),
	), s.resyncFile)

	s.mcp.AddTool(mcp.NewTool("get_property",
		mcp.WithDescription("Read a property as JSON."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Property key")),
	), s.getProperty)

	s.mcp.AddTool(mcp.NewTool("set_property",
		mcp.WithDescription("Set a property to a JSON value. Setting filesOrder requires a reordering of the current file names."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Property key")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON encoded value")),
	), s.setProperty)

	s.mcp.AddTool(mcp.NewTool("remove_property",
		mcp.WithDescription("Delete a property. filesOrder cannot be removed."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Property key")),
	), s.removeProperty)

	s.mcp.AddTool(mcp.NewTool("list_properties",
		mcp.WithDescription("Return all properties as one JSON object."),
	), s.listProperties)

	s.mcp.AddResource(
		mcp.NewResource("rulestore://format", "Store Format",
			mcp.WithResourceDescription("How files, order and properties are stored."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// Serve runs the MCP server over the given streams until ctx is cancelled
// or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp: serving on stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

// toolError converts a store error into a tool result.
func toolError(err error, subject string) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", subject))
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError(fmt.Sprintf("already exists: %s", subject))
	case errors.Is(err, apperr.ErrReservedProperty):
		return mcp.NewToolResultError(fmt.Sprintf("reserved property: %s", subject))
	case errors.Is(err, apperr.ErrInvalidOrder):
		return mcp.NewToolResultError("filesOrder must list every file name exactly once")
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files := s.store.RawFileList()
	out := make([]fileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, fileInfo{
			Index:    f.Index,
			Name:     f.Name,
			Size:     len(f.Data),
			Checksum: checksum.Sum(f.Data),
			Selected: f.Selected,
		})
	}
	return jsonResult(out), nil
}

func (s *Server) countFiles(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(fmt.Sprintf("%d", s.store.Count())), nil
}

func (s *Server) readFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.ReadFile(name)
	if err != nil {
		return toolError(err, name), nil
	}
	return mcp.NewToolResultText(encodeContent(data)), nil
}

func (s *Server) writeFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := decodeContent(content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f := s.store.WriteFile(name, data)
	s.logger.Debug("mcp: file written", slog.String("file", name), slog.Int("size", len(data)))
	return mcp.NewToolResultText(fmt.Sprintf("written: %s (index %d)", f.Name, f.Index)), nil
}

func (s *Server) updateFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := decodeContent(content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.store.UpdateFile(name, data); err != nil {
		return toolError(err, name), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", name)), nil
}

func (s *Server) removeFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.RemoveFile(name); err != nil {
		return toolError(err, name), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed: %s", name)), nil
}

func (s *Server) renameFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newName, err := req.RequireString("new_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.RenameFile(name, newName); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return toolError(err, newName), nil
		}
		return toolError(err, name), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("renamed: %s -> %s", name, newName)), nil
}

func (s *Server) moveFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.MoveTo(from, to); err != nil {
		return toolError(err, from+", "+to), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("moved: %s -> position of %s", from, to)), nil
}

func (s *Server) selectFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	selected := req.GetBool("selected", true)
	if err := s.store.SetSelected(name, selected); err != nil {
		return toolError(err, name), nil
	}
	if selected {
		return mcp.NewToolResultText(fmt.Sprintf("selected: %s", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deselected: %s", name)), nil
}

func (s *Server) resyncFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.Resync(name); err != nil {
		return toolError(err, name), nil
	}
	s.logger.Info("mcp: file resync requested", slog.String("file", name))
	return mcp.NewToolResultText(fmt.Sprintf("resync scheduled: %s", name)), nil
}

func (s *Server) getProperty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v, ok := s.store.GetProperty(key)
	if !ok {
		return toolError(apperr.ErrNotFound, key), nil
	}
	return jsonResult(v), nil
}

func (s *Server) setProperty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("value")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("value is not valid JSON: %v", err)), nil
	}
	if err := s.store.SetProperty(key, v); err != nil {
		return toolError(err, key), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("set: %s", key)), nil
}

func (s *Server) removeProperty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.RemoveProperty(key); err != nil {
		return toolError(err, key), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("removed: %s", key)), nil
}

func (s *Server) listProperties(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.store.Properties()), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "rulestore://format",
			MIMEType: "text/markdown",
			Text:     StoreFormat,
		},
	}, nil
}
