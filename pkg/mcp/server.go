package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"pagepair/pkg/config"
	"pagepair/pkg/orchestrate"
	"pagepair/pkg/storage"
)

const (
	serverName    = "pagepair"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	Store      storage.RunStore // optional; enables cached manifests and run history
}

// Server wraps the MCP server with pagepair specific functionality
type Server struct {
	mcpServer    *server.MCPServer
	cfg          *ServerConfig
	log          *logrus.Entry
	orchestrator *orchestrate.Orchestrator
}

// NewServer builds the MCP server and registers its tools. The embedded
// orchestrator shares one fetch stack across every tool invocation.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("a non-nil AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
		server.WithRecovery(), // a panicking tool handler must not take the server down
	)

	s := &Server{
		mcpServer:    mcpServer,
		cfg:          cfg,
		log:          cfg.Logger.WithField("component", "mcp"),
		orchestrator: orchestrate.NewOrchestrator(cfg.AppConfig, nil, cfg.Store, cfg.Logger),
	}
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	// list_compares - List all configured compares
	listComparesTool := mcp.NewTool("list_compares",
		mcp.WithDescription("List all configured reference/test compares available for URL pairing"),
	)
	s.mcpServer.AddTool(listComparesTool, s.handleListCompares)

	// pair_urls - Resolve URL pairs for one compare
	pairURLsTool := mcp.NewTool("pair_urls",
		mcp.WithDescription("Resolve reference/test URL pairs for a configured compare and return the run manifest"),
		mcp.WithString("compare_key",
			mcp.Required(),
			mcp.Description("Compare key from the config file (e.g., 'marketing_site')"),
		),
		mcp.WithBoolean("use_cached",
			mcp.Description("Return the last stored manifest instead of resolving again, when one exists"),
		),
	)
	s.mcpServer.AddTool(pairURLsTool, s.handlePairURLs)

	// discover_sitemaps - Probe a site for its sitemaps
	discoverSitemapsTool := mcp.NewTool("discover_sitemaps",
		mcp.WithDescription("Probe conventional locations and robots.txt declarations for a site's sitemaps"),
		mcp.WithString("site_url",
			mcp.Required(),
			mcp.Description("Base site URL to probe (e.g., 'https://www.example.com')"),
		),
		mcp.WithString("user_agent",
			mcp.Description("User-Agent for probe requests (defaults to the configured agent)"),
		),
	)
	s.mcpServer.AddTool(discoverSitemapsTool, s.handleDiscoverSitemaps)

	// run_history - List stored runs for a compare
	runHistoryTool := mcp.NewTool("run_history",
		mcp.WithDescription("List stored pairing runs for a compare, newest first"),
		mcp.WithString("compare_key",
			mcp.Required(),
			mcp.Description("Compare key from the config file"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of runs to return (default: 10, max: 100)"),
		),
	)
	s.mcpServer.AddTool(runHistoryTool, s.handleRunHistory)

	s.log.Infof("Registered %d MCP tools", 4)
}

// Run serves MCP requests on the configured transport and blocks until the
// transport shuts down
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("MCP server listening on stdio")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("MCP server listening on %s (SSE)", addr)
		return server.NewSSEServer(s.mcpServer).Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown stops in-flight compare runs. The transport itself ends when its
// stdin or listener closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server, cancelling compare runs...")
	s.orchestrator.Cancel()
	return nil
}
