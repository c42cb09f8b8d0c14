package main

import "github.com/nextlevelbuilder/fern/cmd"

func main() {
	cmd.Execute()
}
