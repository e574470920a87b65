package main

import "github.com/weightfetch/weightfetch/cmd"

func main() {
	cmd.Execute()
}
