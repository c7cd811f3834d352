// The main package for the roster executable.
package main

import (
	"github.com/JakeFAU/tt2-roster/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
