package main

import "newsq/cmd"

func main() {
	cmd.Run()
}
