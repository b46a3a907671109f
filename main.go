package main

import "github.com/kozaktomas/smart-locker/cmd"

func main() {
	cmd.Execute()
}
