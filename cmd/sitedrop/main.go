package main

import (
	"github.com/mcdonaldj/sitedrop/internal/cli"
)

// version is set via ldflags at build time: -ldflags "-X main.version=x.y.z"
var version = "dev"

func main() {
	c := cli.New(version)
	if len(c.Args) < 2 {
		c.Args = append(c.Args, "help")
	}
	c.Run()
}
