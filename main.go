package main

import (
	"os"

	"github.com/leftmike/lstore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
