package main

import (
	"os"

	"github.com/psantana5/reconwrap/cmd/reconwrap/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
