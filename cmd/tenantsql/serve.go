package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pthm/tenantsql/internal/cli"
	"github.com/pthm/tenantsql/internal/server"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the rewriter over gRPC",
	Long: `Serve the tenantsql.v1.Rewriter gRPC service.

Callers pass the tenant in the x-tenant-id metadata header. Set
x-tenant-kind: string to keep a numeric-looking id as a string.`,
	Example: `  tenantsql serve --address 0.0.0.0:7878`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := resolveString(serveAddress, cfg.Serve.Address)

		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return cli.GeneralError("listening on "+addr, err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := server.New(newRewriter(), logger).Serve(ctx, lis); err != nil {
			return cli.GeneralError("serving", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address (default: serve.address from config)")
}
