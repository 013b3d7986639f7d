package main

import (
	"os"

	"github.com/bryan-buckman/tabink/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
