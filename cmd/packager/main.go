package main

import "packager/internal/cli"

func main() {
	cli.Execute()
}
