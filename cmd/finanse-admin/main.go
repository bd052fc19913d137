// Command finanse-admin runs one-shot maintenance tasks against the ledger
// store: rebuilding bucket totals and checking them for drift.
package main

import (
	"context"
	"os"

	"finanse/internal/cli"
	"finanse/internal/ledger"
	"finanse/internal/log"
)

func main() {
	a := &app{
		out: os.Stdout,
		open: func(ctx context.Context) (ledger.Store, func() error, *log.Logger, error) {
			cli.LoadEnvFile()
			cfg := cli.LoadAndValidateConfig()
			logger := cli.SetupLogger(cfg).WithComponent(log.ComponentAdmin)

			res, err := cli.OpenStore(ctx, cfg, logger)
			if err != nil {
				return nil, nil, nil, err
			}
			return res.Store, res.Cleanup, logger, nil
		},
	}

	err := newRootCmd(a).ExecuteContext(context.Background())
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		os.Exit(1)
	}
}
