package main

import (
	"os"

	"github.com/caio-sobreiro/dicomstore/cli"
)

func main() {
	os.Exit(cli.Execute())
}
