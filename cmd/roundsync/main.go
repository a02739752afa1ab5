package main

import "github.com/mcoot/roundsync/internal/cli"

func main() {
	cli.Execute()
}
