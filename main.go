package main

import "UltimateDJ/cmd"

func main() {
	cmd.Execute()
}
