package main

import (
	"os"

	"github.com/conneroisu/starhp/cmd"
)

func main() {
	os.Exit(cmd.ExitCode(cmd.Execute()))
}
