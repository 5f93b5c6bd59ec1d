package main

import (
	"os"

	"healthq/internal/transport/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
