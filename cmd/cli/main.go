package main

import "github.com/sfs-coordinator/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
