package main

import (
	"os"

	"github.com/wirelessalien/moviesync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
