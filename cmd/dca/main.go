package main

import (
	"os"

	"github.com/sqrtlabs/dca-webapp/internal/app"
)

func main() {
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
