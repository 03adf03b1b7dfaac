package main

import "github.com/aiaimimi0920/neuroloom-gateway/cmd"

func main() {
	cmd.Execute()
}
