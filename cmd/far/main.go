// Command far inspects, extracts and mounts FAR archives.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "far:", err)
		os.Exit(1)
	}
}
