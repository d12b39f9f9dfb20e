package main

import "github.com/pathakanu/pillLens/cmd"

func main() {
	cmd.Execute()
}
