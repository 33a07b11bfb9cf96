package main

import "glacier-tools/cmd"

func main() {
	cmd.Execute()
}
