// Command hasbase runs the hasbase shell: it prepares the data directory,
// supervises the sidecar server and exposes a control socket for other
// invocations.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
