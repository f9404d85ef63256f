package main

import "stressq/cmd"

func main() {
	cmd.Execute()
}
