// Package main is the entry point for the sfsync CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/open-cli-collective/salesforce-sync/internal/cmd/bulkcmd"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/completion"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/configcmd"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/initcmd"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/limitscmd"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/querycmd"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/recordcmd"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/servecmd"
)

// Exit codes
const (
	exitOK    = 0
	exitError = 1
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}

func run() error {
	rootCmd, opts := root.NewCmd()

	root.RegisterCommands(rootCmd, opts,
		initcmd.Register,
		configcmd.Register,
		bulkcmd.Register,
		recordcmd.Register,
		querycmd.Register,
		limitscmd.Register,
		servecmd.Register,
		completion.Register,
	)

	return rootCmd.ExecuteContext(context.Background())
}
