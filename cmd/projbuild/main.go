package main

import (
	"context"
	"os"

	"github.com/projbuild/projbuild/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.ExecuteWithVersion(context.Background(), version); err != nil {
		os.Exit(1)
	}
}
