package main

import (
	"context"
	"fmt"
	"os"

	"github.com/boddenberg/habit-hero-go/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
