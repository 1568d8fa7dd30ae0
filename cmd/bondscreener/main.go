package main

import "bond-screener/internal/cli"

func main() {
	cli.Execute()
}
