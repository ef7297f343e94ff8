package main

import "github.com/mvp-joe/tandem/internal/cli"

func main() {
	cli.Execute()
}
