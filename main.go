// The main package for the scout executable.
package main

import (
	"github.com/prebidwatch/scout/cmd"
)

func main() {
	cmd.Execute()
}
