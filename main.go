package main

import "github.com/skyefall/nanobot/cmd"

func main() {
	cmd.Execute()
}
