// ./main.go
package main

import (
	"github.com/refpulse/refpulse/cmd"
)

// main is the entry point for the refpulse application.
func main() {
	cmd.Execute()
}
