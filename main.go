package main

import "github.com/audiolibrelab/singcapture/cmd"

func main() {
	cmd.Execute()
}
