package check

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

// TCPChecker passes when a TCP connection to host:port can be established.
type TCPChecker struct {
	dialer net.Dialer
}

func NewTCPChecker() *TCPChecker {
	return &TCPChecker{}
}

func (c *TCPChecker) Type() string { return "tcp" }

func (c *TCPChecker) DefaultTimeout() time.Duration { return 5 * time.Second }

func (c *TCPChecker) Validate(params map[string]string) error {
	if err := required(params, "host", "port"); err != nil {
		return err
	}
	port, err := strconv.Atoi(params["port"])
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("port %q out of range", params["port"])
	}
	return nil
}

func (c *TCPChecker) Check(ctx context.Context, params map[string]string) (types.CheckOutcome, error) {
	address := net.JoinHostPort(params["host"], params["port"])
	start := time.Now()
	conn, err := c.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fail("connect %s: %v", address, err), nil
	}
	conn.Close()
	elapsed := time.Since(start)
	return types.CheckOutcome{
		Pass:     true,
		Message:  fmt.Sprintf("connected to %s in %dms", address, elapsed.Milliseconds()),
		Duration: elapsed,
	}, nil
}
