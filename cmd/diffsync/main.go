// Command diffsync maintains a replica of a shared link perspective.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "diffsync:", err)
		os.Exit(1)
	}
}
