package main

import "github.com/photostacks/photostacks/cmd"

func main() {
	cmd.Execute()
}
