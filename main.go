package main

import (
	"os"

	"github.com/hyper-light/recall/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
