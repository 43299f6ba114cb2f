package main

import (
	"github.com/adnet-tools/wmsnap/cmd"
)

func main() {
	cmd.Execute()
}
