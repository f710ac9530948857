package main

import "github.com/example/class-scheduler/cmd"

func main() {
	cmd.Execute()
}
