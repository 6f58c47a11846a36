package main

import "github.com/OpenTraceLab/OpenTraceGPIB/cmd/gpib/cmd"

func main() {
	cmd.Execute()
}
