package main

import "avocado/internal/cli"

func main() {
	cli.Execute()
}
