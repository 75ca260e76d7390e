package main

import "github.com/nfrund/chathub/cmd/chathub/cmd"

func main() {
	cmd.Execute()
}
