package main

import (
	"context"
	"log/slog"
	"os"
	"time"
)

var App *StakeApp

func main() {
	App = initApp()

	err := App.cliCmd.Run(context.Background(), os.Args)
	if App.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = App.shutdownTracing(ctx)
		cancel()
	}
	if err != nil {
		slog.Error("Error", "msg", err)
		os.Exit(1)
	}
}
