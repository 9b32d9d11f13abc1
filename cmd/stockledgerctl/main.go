package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/stockledger/cmd/stockledgerctl/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand(cli.Deps{}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "stockledgerctl:", err)
		if errors.Is(err, cli.ErrDriftFound) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
