package main

import "github.com/Tiliavir/offline-time-tracker/cmd"

func main() {
	cmd.Execute()
}
