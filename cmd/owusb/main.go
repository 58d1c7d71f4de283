package main

import "github.com/bjanders/1wire/cmd/owusb/cmd"

func main() {
	cmd.Execute()
}
