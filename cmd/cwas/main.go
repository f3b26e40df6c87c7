// Command cwas runs steps of the category-wide association study pipeline.
package main

import (
	"cwas/internal/appshell"
	"cwas/internal/cli"
)

func main() {
	appshell.Main(cli.Run)
}
