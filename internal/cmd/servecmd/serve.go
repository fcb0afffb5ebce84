// Package servecmd provides the serve command, which exposes bulk jobs and
// record writes over HTTP.
package servecmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
	"github.com/open-cli-collective/salesforce-sync/internal/server"
)

type serveOptions struct {
	addr        string
	corsOrigins []string
}

// Register registers the serve command with the root command.
func Register(parent *cobra.Command, opts *root.Options) {
	parent.AddCommand(NewCommand(opts))
}

// NewCommand returns the serve command.
func NewCommand(opts *root.Options) *cobra.Command {
	var flags serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve bulk jobs and record writes over HTTP",
		Long: `Start an HTTP server in front of the bulk job coordinator and the
retrying record service. Credentials are checked once at startup; tokens are
refreshed as needed while serving. Submitted jobs and failed batch records are
written to the local ledger.

Routes:
  GET    /health
  POST   /bulk/ingest
  POST   /bulk/query
  GET    /bulk/jobs/{id}[?type=query]
  GET    /bulk/jobs/{id}/results[?type=query]
  POST   /bulk/jobs/{id}/abort[?type=query]
  GET    /jobs
  POST   /records/{object}
  POST   /records/{object}/batch
  PATCH  /records/{object}/{id}
  DELETE /records/{object}/{id}
  PUT    /records/{object}/{field}/{value}
  GET    /storage

Examples:
  sfsync serve
  sfsync serve --addr 127.0.0.1:9000 --cors-origin https://app.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			addr := flags.addr
			if addr == "" {
				cfg, err := opts.Config()
				if err != nil {
					return err
				}
				addr = cfg.ListenAddr
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}
			return runServe(ctx, opts, ln, flags.corsOrigins)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().StringSliceVar(&flags.corsOrigins, "cors-origin", nil, "Allowed CORS origin (repeatable; default from config, *)")

	return cmd
}

func runServe(ctx context.Context, opts *root.Options, ln net.Listener, corsOrigins []string) error {
	defer ln.Close()

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	if len(corsOrigins) == 0 {
		corsOrigins = cfg.CORSOrigins
	}

	co, err := opts.Coordinator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bulk client: %w", err)
	}

	svc, err := opts.RecordService(ctx)
	if err != nil {
		return fmt.Errorf("failed to create record service: %w", err)
	}

	logger := opts.Logger()

	srvCfg := server.Config{
		Bulk:        co,
		Records:     svc,
		Logger:      logger,
		CORSOrigins: corsOrigins,
	}

	ledger, err := opts.Ledger()
	if err != nil {
		logger.Warn("job ledger unavailable, serving without it", "error", err)
	} else {
		defer ledger.Close()
		srvCfg.Ledger = ledger
	}

	return server.New(srvCfg).Serve(ctx, ln)
}
