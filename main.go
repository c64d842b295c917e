package main

import "risk-desk/cmd"

func main() {
	cmd.Execute()
}
