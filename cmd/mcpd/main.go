package main

import "github.com/ultimate-mcp/mcpd/cmd/mcpd/cmd"

func main() {
	cmd.Execute()
}
