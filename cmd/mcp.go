package cmd

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/runbar/runbar/internal/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the service tools over MCP on stdio",
	Long: `Run an MCP server on stdin/stdout so coding agents can list, start, stop
and restart services and read their logs. Port conflicts are ignored unless
--on-conflict says otherwise. Every process is stopped when the client
disconnects.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(bootOptions{background: true})
	if err != nil {
		return err
	}
	defer rt.close()

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "runbar",
		Version: version,
	}, nil)
	mcptools.Register(server, rt.ctl)

	return server.Run(cmd.Context(), &mcp.StdioTransport{})
}
