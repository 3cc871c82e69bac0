// The main package for the crlink-unfurler executable.
package main

import (
	"github.com/JakeFAU/crlink-unfurler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
