package main

import "github.com/tanq16/sud/cmd"

func main() {
	cmd.Execute()
}
