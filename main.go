// The main package for the enricher executable.
package main

import (
	"github.com/JakeFAU/course-enricher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
