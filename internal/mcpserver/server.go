// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Marginalia tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/marginalia/internal/annotate"
	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/docservice"
	"github.com/starford/marginalia/internal/models"
)

const guideURI = "marginalia://highlight-guide"

// Server wraps the MCP server with Marginalia tools.
type Server struct {
	mcp *server.MCPServer
	svc *docservice.Service
}

// New creates a new MCP server with all Marginalia tools registered.
func New(svc *docservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Marginalia",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	colors := make([]string, len(models.Palette))
	for i, c := range models.Palette {
		colors[i] = string(c)
	}

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Full-text search through archived article titles and text."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List archived articles, newest first."),
		mcp.WithString("feed", mcp.Description("Optional feed URL to filter by")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read an archived article. format=raw returns the stored file, "+
			"format=text returns the plain text that highlight offsets refer to."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the article (e.g. feed/post.html)")),
		mcp.WithString("format", mcp.Enum("raw", "text"), mcp.Description("raw (default) or text")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("list_highlights",
		mcp.WithDescription("List the highlights of an article ordered by position."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the article")),
	), s.listHighlights)

	s.mcp.AddTool(mcp.NewTool("create_highlight",
		mcp.WithDescription("Highlight part of an article's plain text. Give either start and end "+
			"offsets or a quote. Read the guide via get_highlight_guide or the "+guideURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the article")),
		mcp.WithString("color", mcp.Required(), mcp.Enum(colors...), mcp.Description("Highlight color")),
		mcp.WithNumber("start", mcp.Description("Start offset in code points (inclusive)")),
		mcp.WithNumber("end", mcp.Description("End offset in code points (exclusive)")),
		mcp.WithString("quote", mcp.Description("Exact text to highlight; its first occurrence is used")),
		mcp.WithString("note", mcp.Description("Optional note")),
	), s.createHighlight)

	s.mcp.AddTool(mcp.NewTool("update_highlight",
		mcp.WithDescription("Change the note or color of a highlight. An empty note clears it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Highlight id")),
		mcp.WithString("color", mcp.Enum(colors...), mcp.Description("New color")),
		mcp.WithString("note", mcp.Description("New note")),
	), s.updateHighlight)

	s.mcp.AddTool(mcp.NewTool("delete_highlight",
		mcp.WithDescription("Delete a highlight."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Highlight id")),
	), s.deleteHighlight)

	s.mcp.AddTool(mcp.NewTool("render_document",
		mcp.WithDescription("Render an article as HTML with every highlight wrapped in a <mark> element."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the article")),
	), s.renderDocument)

	s.mcp.AddTool(mcp.NewTool("get_highlight_guide",
		mcp.WithDescription("Returns how offsets, colors and markers work. "+
			"Call this before creating highlights."),
	), s.getHighlightGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Highlight Guide",
			mcp.WithResourceDescription("Offsets, palette and marker format for highlights."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(path string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, total, err := s.svc.ListDocuments(ctx, req.GetInt("limit", 50), req.GetInt("offset", 0), req.GetString("feed", ""), "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("no documents"), nil
	}
	var b strings.Builder
	for _, d := range docs {
		fmt.Fprintf(&b, "%s\t%s\n", d.ID, d.Title)
	}
	fmt.Fprintf(&b, "(%d of %d)", len(docs), total)
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.GetString("format", "raw") == "text" {
		root, _, err := s.svc.Tree(path)
		if err != nil {
			return errorResult(path, err), nil
		}
		return mcp.NewToolResultText(annotate.Projection(root)), nil
	}
	doc, err := s.svc.GetDocument(ctx, path)
	if err != nil {
		return errorResult(path, err), nil
	}
	return mcp.NewToolResultText(doc.Content), nil
}

func (s *Server) listHighlights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.svc.Highlights(ctx, path)
	if err != nil {
		return errorResult(path, err), nil
	}
	return jsonResult(items)
}

func (s *Server) createHighlight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	color, err := req.RequireString("color")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	start, errStart := req.RequireInt("start")
	end, errEnd := req.RequireInt("end")
	if errStart != nil || errEnd != nil {
		quote := req.GetString("quote", "")
		if quote == "" {
			return mcp.NewToolResultError("either start and end or quote is required"), nil
		}
		start, end, err = s.findQuote(path, quote)
		if err != nil {
			return errorResult(path, err), nil
		}
	}

	var note *string
	if n := req.GetString("note", ""); n != "" {
		note = &n
	}
	h, err := s.svc.CreateHighlight(ctx, path, start, end, models.Color(color), note)
	if err != nil {
		return errorResult(path, err), nil
	}
	return jsonResult(h)
}

// findQuote returns the code point range of the first occurrence of quote in
// the article's plain text.
func (s *Server) findQuote(path, quote string) (int, int, error) {
	root, _, err := s.svc.Tree(path)
	if err != nil {
		return 0, 0, err
	}
	text := annotate.Projection(root)
	i := strings.Index(text, quote)
	if i < 0 {
		return 0, 0, fmt.Errorf("%w: quote not found in %s", apperr.ErrInvalid, path)
	}
	start := utf8.RuneCountInString(text[:i])
	return start, start + utf8.RuneCountInString(quote), nil
}

func (s *Server) updateHighlight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var patch models.HighlightPatch
	args := req.GetArguments()
	if _, ok := args["note"]; ok {
		n := req.GetString("note", "")
		patch.Note = &n
	}
	if c := req.GetString("color", ""); c != "" {
		color := models.Color(c)
		patch.Color = &color
	}
	h, err := s.svc.UpdateHighlight(ctx, id, patch)
	if err != nil {
		return errorResult(id, err), nil
	}
	return jsonResult(h)
}

func (s *Server) deleteHighlight(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteHighlight(ctx, id); err != nil {
		return errorResult(id, err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) renderDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.RenderDocument(ctx, path)
	if err != nil {
		return errorResult(path, err), nil
	}
	return mcp.NewToolResultText(out.HTML), nil
}

func (s *Server) getHighlightGuide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(HighlightGuide), nil
}

func (s *Server) readGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      guideURI,
			MIMEType: "text/markdown",
			Text:     HighlightGuide,
		},
	}, nil
}
