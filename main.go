package main

import "mariobot/cmd"

func main() {
	cmd.Execute()
}
