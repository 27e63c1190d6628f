package main

import "github.com/bryanchriswhite/FaceRelay/cmd/facerelay/commands"

func main() {
	commands.Execute()
}
