package main

import "github.com/eniac111/computectl/internal/cli"

func main() {
	cli.Main()
}
