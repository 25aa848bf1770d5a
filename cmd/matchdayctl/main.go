package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/matchday/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString("matchdayctl: " + err.Error() + "\n")
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
