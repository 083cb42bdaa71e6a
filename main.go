package main

import "github.com/krau/trashseg/cmd"

func main() {
	cmd.Execute()
}
