package main

import "github.com/example/tatkal-scheduler/cmd"

func main() {
	cmd.Execute()
}
