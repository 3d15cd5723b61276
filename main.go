package main

import (
	"fmt"
	"os"

	"github.com/leonidasmv10/safe-drive-app-sub000/cmd"
	"github.com/leonidasmv10/safe-drive-app-sub000/internal/conf"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
