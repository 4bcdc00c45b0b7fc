package main

import "pinlink/cmd"

func main() {
	cmd.Execute()
}
