package main

import (
	"context"
	"os"

	"speedwatch/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background()))
}
