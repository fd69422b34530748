// Command xreposync syncs commits and bookmarks between a small repository
// and the large repository that embeds it.
package main

import (
	"context"
	"os"

	"github.com/roach88/xreposync/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:]))
}
