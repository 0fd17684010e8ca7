// Command sitepacer replays recorded latencies through the pacing monitor.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
