// Command flakectl operates a snowflake sequence data directory: it creates
// and inspects sequences, issues values and takes checkpoints, and decodes
// ids.
package main

import (
	"os"

	"github.com/datatrails/go-datatrails-common/logger"
)

func main() {
	err := newRootCmd().Execute()
	logger.OnExit()
	if err != nil {
		os.Exit(1)
	}
}
