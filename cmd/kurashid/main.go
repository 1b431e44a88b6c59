// Command kurashid runs the Kurashi record-keeping agents behind a Discord bot,
// a local console and an HTTP API.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
