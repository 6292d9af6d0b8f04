package main

import "github.com/oshokin/procdb/cmd/procdb-cli/cmd"

func main() {
	cmd.Execute()
}
