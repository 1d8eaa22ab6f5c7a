package main

import (
	"github.com/SamirTalwar/sandcastles/internal/cli"
	"github.com/SamirTalwar/sandcastles/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
