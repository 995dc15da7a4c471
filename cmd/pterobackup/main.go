// pterobackup - archive a game server volume and upload it to cloud storage.
package main

import (
	"fmt"
	"os"

	"github.com/kiwitech/pterobackup/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
