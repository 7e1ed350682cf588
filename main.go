package main

import (
	"os"

	"github.com/smazurov/frontman/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
