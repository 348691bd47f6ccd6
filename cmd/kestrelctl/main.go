package main

import (
	"os"

	"github.com/kestrelchat/kestrel/cmd/kestrelctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
