package main

import "github.com/cloudsim/cloudsim/cmd"

func main() {
	cmd.Execute()
}
