// Command rtmp-probe dials an RTMP server, performs the client side of the
// simple handshake and prints what the server announced.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ogier/pflag"

	rerrors "github.com/alxayo/go-rtmp-handshake/internal/errors"
	"github.com/alxayo/go-rtmp-handshake/internal/logger"
	"github.com/alxayo/go-rtmp-handshake/internal/rtmp/handshake"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]... HOST:PORT\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "\nPerform an RTMP handshake against HOST:PORT and report the result.")
	fmt.Fprintln(os.Stderr, "\nOptional arguments:")
	pflag.PrintDefaults()
}

func main() {
	pflag.Usage = printUsage
	dialTimeout := pflag.DurationP("timeout", "t", 5*time.Second, "TCP dial timeout")
	count := pflag.IntP("count", "c", 1, "number of handshakes to perform")
	logLevel := pflag.String("log-level", "warn", "Log level: debug|info|warn|error")
	pflag.Parse()

	if pflag.NArg() != 1 || *count < 1 {
		printUsage()
		os.Exit(2)
	}
	addr := pflag.Arg(0)

	logger.Init()
	if err := logger.SetLevel(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid log level %q, using default\n", *logLevel)
	}

	failed := 0
	for i := 0; i < *count; i++ {
		res, err := probe(addr, *dialTimeout)
		if err != nil {
			failed++
			fmt.Printf("%s: handshake failed (%s): %v\n", addr, rerrors.Reason(err), err)
			continue
		}
		fmt.Printf("%s: version=%d server_epoch=%d client_epoch=%d time=%s\n",
			addr, res.ServerVersion, res.ServerEpoch, res.ClientEpoch, res.Duration.Round(time.Microsecond))
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func probe(addr string, timeout time.Duration) (*handshake.ClientResult, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return handshake.ClientHandshake(c)
}
