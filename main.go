package main

import "github.com/animara-ai/animara/cmd"

func main() {
	cmd.Execute()
}
