package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/evaguard/evaguard/internal/adapter/inbound/stdio"
)

var stdioDev bool

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve JSON-RPC over stdin/stdout",
	Long: `Serve the compliance API as newline-delimited JSON-RPC 2.0 on
stdin/stdout. Logs go to stderr.

Methods:
  compliance/check   {"message": "...", "source": "..."}
  rules/list
  rules/add          {"id", "description", "pattern", "priority", "enabled"}
  rules/enable       {"id"}
  rules/disable      {"id"}
  rules/remove       {"id"}

Example:
  echo '{"jsonrpc":"2.0","id":1,"method":"compliance/check","params":{"message":"hi"}}' | evaguard stdio`,
	RunE: runStdio,
}

func init() {
	stdioCmd.Flags().BoolVar(&stdioDev, "dev", false, "Enable development mode")
	rootCmd.AddCommand(stdioCmd)
}

func runStdio(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(stdioDev)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	a, err := newApp(ctx, cfg, resolveStatePath(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server := stdio.NewServer(a.compliance,
		stdio.WithLogger(logger),
		stdio.WithMaxMessageBytes(int(cfg.Server.MaxBodyBytes)),
	)
	logger.Info("serving JSON-RPC on stdio")
	return server.Serve(ctx, os.Stdin, os.Stdout)
}
