// Command aegis runs and validates Aegis agent configurations.
package main

import "github.com/aegisrun/aegis/cmd/aegis/cmd"

func main() {
	cmd.Execute()
}
