package main

import (
	"github.com/taraaggoun/megaphone/cmd"
)

func main() {
	cmd.Execute()
}
