// Package check defines the check-type plugin contract and the registry that
// dispatches check runs by type tag.
package check

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

var (
	ErrUnknownType   = errors.New("unknown check type")
	ErrInvalidParams = errors.New("invalid check parameters")
)

const defaultTimeout = 10 * time.Second

// Checker tests a target described by params. Unreachable or unhealthy targets are
// reported as an outcome with Pass=false; the error return is reserved for
// configuration problems such as missing or malformed parameters.
type Checker interface {
	Type() string
	Validate(params map[string]string) error
	DefaultTimeout() time.Duration
	Check(ctx context.Context, params map[string]string) (types.CheckOutcome, error)
}

// Registry maps check type tags to Checkers. It is populated at startup and read
// concurrently by executor goroutines afterwards.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	now      func() time.Time
}

func NewRegistry(checkers ...Checker) *Registry {
	r := &Registry{
		checkers: make(map[string]Checker, len(checkers)),
		now:      time.Now,
	}
	for _, c := range checkers {
		r.Register(c)
	}
	return r
}

// NewDefaultRegistry returns a registry with the built-in http, tcp, dns and command checks.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewHTTPChecker(nil),
		NewTCPChecker(),
		NewDNSChecker(nil),
		NewCommandChecker(),
	)
}

func (r *Registry) Register(c Checker) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[strings.ToLower(c.Type())] = c
}

// Types lists the registered check type tags.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.checkers))
	for t := range r.checkers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(checkType string) (Checker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[strings.ToLower(checkType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, checkType)
	}
	return c, nil
}

// Validate checks that checkType is registered and params are acceptable to it.
func (r *Registry) Validate(checkType string, params map[string]string) error {
	c, err := r.lookup(checkType)
	if err != nil {
		return err
	}
	if _, err := timeoutParam(params); err != nil {
		return err
	}
	if err := c.Validate(params); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// Timeout returns the hard execution timeout for a check, honouring a "timeout" param.
func (r *Registry) Timeout(checkType string, params map[string]string) time.Duration {
	if d, err := timeoutParam(params); err == nil && d > 0 {
		return d
	}
	c, err := r.lookup(checkType)
	if err != nil {
		return defaultTimeout
	}
	if d := c.DefaultTimeout(); d > 0 {
		return d
	}
	return defaultTimeout
}

// Run executes a single check attempt. The caller owns the deadline on ctx.
func (r *Registry) Run(ctx context.Context, checkType string, params map[string]string) (types.CheckOutcome, error) {
	c, err := r.lookup(checkType)
	if err != nil {
		return types.CheckOutcome{}, err
	}
	if err := c.Validate(params); err != nil {
		return types.CheckOutcome{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	start := r.now()
	outcome, err := c.Check(ctx, params)
	if err != nil {
		return types.CheckOutcome{}, err
	}
	if outcome.Duration == 0 {
		outcome.Duration = r.now().Sub(start)
	}
	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = r.now().UTC()
	}
	return outcome, nil
}

func timeoutParam(params map[string]string) (time.Duration, error) {
	raw := strings.TrimSpace(params["timeout"])
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: timeout %q", ErrInvalidParams, raw)
	}
	return d, nil
}

func required(params map[string]string, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(params[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required params: %s", strings.Join(missing, ", "))
	}
	return nil
}

func fail(format string, args ...any) types.CheckOutcome {
	return types.CheckOutcome{Pass: false, Message: fmt.Sprintf(format, args...)}
}
