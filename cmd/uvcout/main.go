package main

import "github.com/thesyncim/uvcout/cmd/uvcout/commands"

func main() {
	commands.Execute()
}
