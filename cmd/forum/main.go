package main

import "github.com/emilythestrangee/forum/backend/cmd/forum/commands"

func main() {
	commands.Execute()
}
