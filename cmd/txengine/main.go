package main

import (
	"os"

	"github.com/warp/payments-engine/cmd/txengine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
