// The main package for the scrape-engine executable.
package main

import (
	"os"

	"github.com/JakeFAU/webscrape-engine/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
