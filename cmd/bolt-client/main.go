package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alxayo/go-bolt/internal/logger"
	"github.com/alxayo/go-bolt/internal/bolt/client"
	"github.com/alxayo/go-bolt/internal/bolt/packstream"
)

func main() {
	logger.Init()
	os.Exit(RunCLI(os.Args[1:], os.Stdout))
}

// RunCLI connects to a Bolt server, INITs, RUNs a single statement, and
// prints each returned record, grounded on
// internal/rtmp/client/client.go's RunCLI entry-point shape (simplified to
// Bolt's single-statement-per-invocation CLI rather than publish/play
// modes).
//
// Usage: bolt-client run <host:port> <statement>
func RunCLI(args []string, stdout io.Writer) int {
	if len(args) < 3 || args[0] != "run" {
		fmt.Fprintln(stdout, "usage: bolt-client run <host:port> <statement>")
		return 2
	}
	addr := args[1]
	statement := args[2]

	c, err := client.Dial(addr)
	if err != nil {
		fmt.Fprintln(stdout, "error:", err)
		return 1
	}
	defer c.Close()

	if _, err := c.Init("bolt-client/1.0", packstream.Map{}); err != nil {
		fmt.Fprintln(stdout, "init failed:", err)
		return 1
	}

	stream, err := c.Run(statement, packstream.Map{})
	if err != nil {
		fmt.Fprintln(stdout, "run failed:", err)
		return 1
	}

	for {
		rec, ok := stream.Next()
		if !ok {
			break
		}
		fmt.Fprintln(stdout, rec.Fields)
	}
	if err := stream.Err(); err != nil {
		fmt.Fprintln(stdout, "stream error:", err)
		return 1
	}
	return 0
}
