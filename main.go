// dndupload drives the upload queue of drag-and-drop file forms from the
// command line.
//
// Build with: go build -ldflags "-X github.com/rescale/dndupload/internal/version.Version=vX.Y.Z"
package main

import (
	"os"

	"github.com/rescale/dndupload/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
