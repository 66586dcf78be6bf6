// The main package for the pagekeep executable.
package main

import (
	"github.com/pagekeep/pagekeep/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
