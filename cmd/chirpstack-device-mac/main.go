package main

import "github.com/brocaar/chirpstack-device-mac/cmd/chirpstack-device-mac/cmd"

var version string // set by the compiler

func main() {
	cmd.Execute(version)
}
