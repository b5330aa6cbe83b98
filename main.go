// The main package for the fda-harvester executable.
package main

import (
	"github.com/quriousri/fda-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
