package main

import "github.com/oshokin/procdb/cmd/procdb-server/cmd"

func main() {
	cmd.Execute()
}
