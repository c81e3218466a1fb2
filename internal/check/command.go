package check

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

// CommandChecker runs a Nagios-style plugin binary. Exit status 0 passes; any other
// status fails. The first line of output becomes the diagnostic message.
type CommandChecker struct{}

func NewCommandChecker() *CommandChecker {
	return &CommandChecker{}
}

func (c *CommandChecker) Type() string { return "command" }

func (c *CommandChecker) DefaultTimeout() time.Duration { return 30 * time.Second }

func (c *CommandChecker) Validate(params map[string]string) error {
	if err := required(params, "path"); err != nil {
		return err
	}
	info, err := os.Stat(params["path"])
	if err != nil {
		return fmt.Errorf("plugin %q: %v", params["path"], err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return fmt.Errorf("plugin %q is not executable", params["path"])
	}
	return nil
}

func (c *CommandChecker) Check(ctx context.Context, params map[string]string) (types.CheckOutcome, error) {
	args := strings.Fields(params["args"])
	cmd := exec.CommandContext(ctx, params["path"], args...)
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	msg := firstLine(out.Bytes())

	if err == nil {
		return types.CheckOutcome{Pass: true, Message: msg, Duration: elapsed}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.CheckOutcome{Pass: false, Message: "timeout: plugin killed", Duration: elapsed}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if msg == "" {
			msg = fmt.Sprintf("plugin exited with status %d", exitErr.ExitCode())
		}
		return types.CheckOutcome{Pass: false, Message: msg, Duration: elapsed}, nil
	}
	return types.CheckOutcome{}, fmt.Errorf("%w: run plugin: %v", ErrInvalidParams, err)
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(b))
	if sc.Scan() {
		return strings.TrimSpace(sc.Text())
	}
	return ""
}
