// The main package for the webscreenshots executable.
package main

import (
	"github.com/JakeFAU/webscreenshots/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
