package main

import (
	"github.com/sigmafold/alphahunt/internal/cli"
)

func main() {
	cli.Run()
}
