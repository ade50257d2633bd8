package main

import "github.com/agent-command/tgbridge/internal/cmd"

func main() {
	cmd.Execute()
}
