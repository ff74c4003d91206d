package main

import "github.com/agentic-research/cfsync/cmd"

func main() {
	cmd.Execute()
}
