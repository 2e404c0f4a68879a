package main

import (
	"os"

	"igcrawler/pkg/ui"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("igcrawler", err)
		os.Exit(1)
	}
}
