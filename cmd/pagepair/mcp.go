package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"pagepair/pkg/mcp"
	"pagepair/pkg/storage"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")
	noStore := fs.Bool("no-store", false, "Run without the state database (disables cached manifests and run history)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: pagepair mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport (for Claude Desktop)
  pagepair mcp-server -config config.yaml

  # Start with SSE transport on port 8080
  pagepair mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  list_compares      List all configured compares
  pair_urls          Resolve reference/test URL pairs for a compare
  discover_sitemaps  Probe a site for sitemaps
  run_history        Show stored runs for a compare
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *logLevel, *noStore, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server command.
// Returns exit code (0 = success, 1 = error).
func doMcpServer(configPath, transport string, port int, logLevel string, noStore bool, stdout, stderr io.Writer) int {
	// MCP protocol uses stdout, logs go to stderr
	log, err := newCommandLogger(logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", logLevel)
		return 1
	}

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	appWarnings, _ := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}

	// A broken compare must not keep the server from starting; the pairing
	// tool reports it when that compare is actually requested.
	for key, cmpCfg := range appCfg.Compares {
		cmpWarnings, cmpErr := cmpCfg.Validate()
		if cmpErr != nil {
			log.Warnf("Compare '%s' has configuration problems: %v", key, cmpErr)
			continue
		}
		for _, w := range cmpWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Compares[key] = cmpCfg
	}

	// The store stays open for the server's lifetime; GC runs until shutdown
	gcCtx, cancelGC := context.WithCancel(context.Background())
	defer cancelGC()

	var store storage.RunStore
	if noStore {
		log.Info("State database disabled; cached manifests and run history unavailable.")
	} else {
		badgerStore, err := storage.NewBadgerStore(gcCtx, appCfg.StateDir, log.WithField("component", "storage"))
		if err != nil {
			log.Warnf("Could not open run store (continuing without it): %v", err)
		} else {
			defer badgerStore.Close()
			go badgerStore.RunGC(gcCtx, appCfg.DBGCInterval)
			store = badgerStore
		}
	}

	serverCfg := &mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Store:      store,
	}

	server, err := mcp.NewServer(serverCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	log.Infof("Starting MCP server (transport: %s)", transport)

	if err := server.Run(); err != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}

	return 0
}
