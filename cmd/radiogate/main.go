// Command radiogate is the entry point for the radiogate audio router.
//
// radiogate serve runs the router and its HTTP control surface. The
// check-config and simulate subcommands work offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "radiogate:", err)
		}
		os.Exit(1)
	}
}
