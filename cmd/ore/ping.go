package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orepkg/ore/internal/dcontext"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "check that the configured registry is reachable",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runPing())
	},
}

func runPing() int {
	ctx := dcontext.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return exitf(err)
	}
	defer a.Close()

	if err := a.registry.Ping(ctx); err != nil {
		return exitf(err)
	}
	fmt.Printf("%s: ok\n", a.cfg.Registry.URL)
	return exitOK
}
