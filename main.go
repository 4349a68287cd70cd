package main

import (
	"os"
	"time"

	"github.com/acoustic-content-samples/wchtools-go/internal/config"
	"github.com/acoustic-content-samples/wchtools-go/internal/hashes"
)

func main() {
	err := newRootCmd().Execute()

	// Some shells and CI wrappers lose buffered output when the process
	// exits immediately; an explicit grace period opts into draining.
	if v := os.Getenv(config.EnvWaitForClose); v != "" {
		if d, parseErr := time.ParseDuration(v); parseErr == nil {
			time.Sleep(d)
		} else {
			time.Sleep(time.Second)
		}
	}

	if err != nil {
		hashes.FlushAll()
		exitOnError(err)
	}
}

// exitOnError prints the error and exits non-zero.
func exitOnError(err error) {
	os.Stderr.WriteString("Error: " + err.Error() + "\n")
	os.Exit(1)
}
