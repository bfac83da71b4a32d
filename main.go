package main

import "github.com/kozaktomas/face-guard/cmd"

func main() {
	cmd.Execute()
}
