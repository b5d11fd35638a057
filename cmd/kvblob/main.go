package main

import "github.com/aweris/kvblob/cmd/kvblob/cmd"

func main() {
	cmd.Execute()
}
