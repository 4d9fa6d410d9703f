package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/whytv-ai/whytv-backend/internal/app"
	"github.com/whytv-ai/whytv-backend/internal/triggers"
)

func main() {
	var noRetry bool
	var pruneRuns bool
	flag.BoolVar(&noRetry, "no-retry", false, "run the sweep once without the scheduled retry policy")
	flag.BoolVar(&pruneRuns, "prune-runs", true, "prune stage run ledger rows older than RUN_RETENTION_SECONDS")
	flag.Parse()

	ctx := context.Background()
	application, err := app.New(ctx)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		os.Exit(1)
	}
	defer application.Close()

	policy := triggers.CleanupRetry
	if noRetry {
		policy = triggers.RetryPolicy{}
	}

	var scanned, deleted int
	err = triggers.Retry(ctx, policy, func(ctx context.Context) error {
		res, err := application.Services.Cleanup.Sweep(ctx)
		scanned, deleted = res.Scanned, res.Deleted
		return err
	})
	if err != nil {
		fmt.Printf("cleanup failed: %v\n", err)
		application.Close()
		os.Exit(1)
	}

	if pruneRuns && application.Services.Runs != nil && application.Cfg.RunRetention > 0 {
		n, err := application.Services.Runs.Prune(ctx, time.Now().Add(-application.Cfg.RunRetention))
		if err != nil {
			fmt.Printf("prune runs: %v\n", err)
		} else {
			fmt.Printf("pruned %d stage runs\n", n)
		}
	}
	fmt.Printf("done; scanned=%d deleted=%d\n", scanned, deleted)
}
