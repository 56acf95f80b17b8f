package main

import (
	"fmt"
	"os"

	"github.com/gitvfs/gitvfs/cmd/gitvfs/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
