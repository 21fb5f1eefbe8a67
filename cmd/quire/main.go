// Command quire runs CMS statements against MongoDB or SQLite.
package main

import (
	"os"

	"github.com/mesh-intelligence/quire/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
