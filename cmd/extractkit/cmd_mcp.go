package main

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"extractkit/internal/logging"
	mcpserver "extractkit/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the operations as MCP tools over stdio",
	Long: `Starts an MCP server over stdin/stdout. Files are passed to the tools
Base64-encoded. The server exits when its parent process goes away.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	mcpserver.WatchParent(ctx, 2*time.Second, cancel)

	srv := mcpserver.NewServer(a.svc, version, mcpserver.WithCatalog(a.registry))
	logging.New("mcp").Info("starting MCP server over stdio", "version", version)
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
