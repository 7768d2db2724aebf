// Command mudpie serves a persistent multi-user text world.
package main

import "github.com/mudpienet/mudpie/cmd/mudpie/command"

func main() {
	command.Execute()
}
