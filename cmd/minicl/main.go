// Command minicl inspects devices, builds kernel sources and runs the built-in
// simple_add example through the minicl safety boundary.
//
// Usage:
//
//	minicl devices
//	minicl build kernels.cl
//	minicl run --n 1024 --x 1000 --local 16 --profile-dir ./profile
//	minicl profile --dir ./profile
//
// Configuration is read from --config, ./minicl.yaml or ~/.minicl/config.yaml,
// then overridden by MINICL_* environment variables. klog flags (-v, --logtostderr)
// are accepted by every command.
package main

import (
	"os"

	"k8s.io/klog/v2"

	"github.com/orneryd/minicl/cmd/minicl/commands"
)

func main() {
	err := commands.Execute()
	klog.Flush()
	if err != nil {
		os.Exit(1)
	}
}
