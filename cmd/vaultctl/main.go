package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/snapvault/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.OpenBackend).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
