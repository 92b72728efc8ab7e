package main

import "github.com/ag3nt-dev/gateway/cmd"

func main() {
	cmd.Execute()
}
