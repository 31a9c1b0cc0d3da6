package main

import "github.com/marcus/taskmill/cmd/taskmill/commands"

func main() {
	commands.Execute()
}
