// Command persistctl inspects and edits a persistence store.
package main

import (
	"os"

	"github.com/kilupskalvis/persistence/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
