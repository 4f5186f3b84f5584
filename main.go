package main

import "github.com/kvstore/kvstore/cmd"

func main() {
	cmd.Execute()
}
