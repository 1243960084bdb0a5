package main

import "github.com/tywang/bookhaul/internal/cli"

func main() {
	cli.Execute()
}
