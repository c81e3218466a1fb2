package check

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

func TestRegistryUnknownType(t *testing.T) {
	r := NewDefaultRegistry()
	if err := r.Validate("snmp", nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := r.Run(context.Background(), "snmp", nil); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType from Run, got %v", err)
	}
	got := strings.Join(r.Types(), ",")
	if got != "command,dns,http,tcp" {
		t.Fatalf("unexpected types: %s", got)
	}
}

func TestRegistryValidateParams(t *testing.T) {
	r := NewDefaultRegistry()
	if err := r.Validate("tcp", map[string]string{"host": "example.com"}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	if err := r.Validate("TCP", map[string]string{"host": "example.com", "port": "443"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Validate("tcp", map[string]string{"host": "example.com", "port": "443", "timeout": "soon"}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected bad timeout rejected, got %v", err)
	}
}

func TestRegistryTimeout(t *testing.T) {
	r := NewDefaultRegistry()
	if got := r.Timeout("tcp", nil); got != 5*time.Second {
		t.Fatalf("unexpected tcp default timeout: %s", got)
	}
	if got := r.Timeout("tcp", map[string]string{"timeout": "750ms"}); got != 750*time.Millisecond {
		t.Fatalf("timeout param ignored: %s", got)
	}
	if got := r.Timeout("unknown", nil); got != defaultTimeout {
		t.Fatalf("unexpected fallback timeout: %s", got)
	}
}

type staticChecker struct {
	outcome types.CheckOutcome
}

func (s staticChecker) Type() string                     { return "static" }
func (s staticChecker) DefaultTimeout() time.Duration    { return 0 }
func (s staticChecker) Validate(map[string]string) error { return nil }
func (s staticChecker) Check(context.Context, map[string]string) (types.CheckOutcome, error) {
	return s.outcome, nil
}

func TestRegistryRunFillsTimestamps(t *testing.T) {
	r := NewRegistry(staticChecker{outcome: types.CheckOutcome{Pass: true}})
	fixed := time.Unix(500, 0)
	r.now = func() time.Time { return fixed }

	outcome, err := r.Run(context.Background(), "static", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Pass || !outcome.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestHTTPChecker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("status: healthy"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.Client())
	ctx := context.Background()

	outcome, err := c.Check(ctx, map[string]string{"url": srv.URL + "/ok", "contains": "healthy"})
	if err != nil || !outcome.Pass {
		t.Fatalf("expected pass, got %+v err=%v", outcome, err)
	}

	outcome, err = c.Check(ctx, map[string]string{"url": srv.URL + "/ok", "contains": "degraded"})
	if err != nil || outcome.Pass {
		t.Fatalf("expected body mismatch failure, got %+v err=%v", outcome, err)
	}

	outcome, err = c.Check(ctx, map[string]string{"url": srv.URL + "/down"})
	if err != nil || outcome.Pass {
		t.Fatalf("expected status failure, got %+v err=%v", outcome, err)
	}

	outcome, err = c.Check(ctx, map[string]string{"url": srv.URL + "/down", "expected_status": "503"})
	if err != nil || !outcome.Pass {
		t.Fatalf("expected explicit status match, got %+v err=%v", outcome, err)
	}

	if err := c.Validate(map[string]string{"url": "ftp://example.com"}); err == nil {
		t.Fatalf("expected non-http URL rejected")
	}
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	c := NewTCPChecker()
	params := map[string]string{"host": "127.0.0.1", "port": strconv.Itoa(addr.Port)}
	outcome, err := c.Check(context.Background(), params)
	if err != nil || !outcome.Pass {
		t.Fatalf("expected connect success, got %+v err=%v", outcome, err)
	}

	ln.Close()
	outcome, err = c.Check(context.Background(), params)
	if err != nil || outcome.Pass {
		t.Fatalf("expected refused connection to fail, got %+v err=%v", outcome, err)
	}

	if err := c.Validate(map[string]string{"host": "x", "port": "70000"}); err == nil {
		t.Fatalf("expected port out of range rejected")
	}
}

type fakeResolver struct {
	ips []net.IPAddr
	err error
}

func (f fakeResolver) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	return f.ips, f.err
}
func (f fakeResolver) LookupCNAME(context.Context, string) (string, error) {
	return "alias.example.com.", f.err
}
func (f fakeResolver) LookupMX(context.Context, string) ([]*net.MX, error) {
	return []*net.MX{{Host: "mx1.example.com.", Pref: 10}}, f.err
}
func (f fakeResolver) LookupTXT(context.Context, string) ([]string, error) {
	return []string{"v=spf1 -all"}, f.err
}
func (f fakeResolver) LookupNS(context.Context, string) ([]*net.NS, error) {
	return []*net.NS{{Host: "ns1.example.com."}}, f.err
}

func TestDNSChecker(t *testing.T) {
	c := NewDNSChecker(fakeResolver{ips: []net.IPAddr{{IP: net.ParseIP("192.0.2.10")}, {IP: net.ParseIP("2001:db8::1")}}})
	ctx := context.Background()

	outcome, _ := c.Check(ctx, map[string]string{"name": "example.com", "expected": "192.0.2.10"})
	if !outcome.Pass {
		t.Fatalf("expected A match, got %+v", outcome)
	}
	outcome, _ = c.Check(ctx, map[string]string{"name": "example.com", "expected": "192.0.2.11"})
	if outcome.Pass {
		t.Fatalf("expected A mismatch to fail")
	}
	outcome, _ = c.Check(ctx, map[string]string{"name": "example.com", "record_type": "aaaa"})
	if !outcome.Pass || !strings.Contains(outcome.Message, "2001:db8::1") {
		t.Fatalf("expected AAAA answer, got %+v", outcome)
	}
	outcome, _ = c.Check(ctx, map[string]string{"name": "example.com", "record_type": "MX", "expected": "mx1.example.com"})
	if !outcome.Pass {
		t.Fatalf("expected MX match, got %+v", outcome)
	}

	failing := NewDNSChecker(fakeResolver{err: errors.New("no such host")})
	outcome, err := failing.Check(ctx, map[string]string{"name": "missing.example"})
	if err != nil || outcome.Pass {
		t.Fatalf("expected resolution failure outcome, got %+v err=%v", outcome, err)
	}

	if err := c.Validate(map[string]string{"name": "example.com", "record_type": "SRV"}); err == nil {
		t.Fatalf("expected unsupported record type rejected")
	}
}

func TestCommandChecker(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	dir := t.TempDir()
	okPath := writeScript(t, dir, "check_ok", "#!/bin/sh\necho \"OK - all good\"\nexit 0\n")
	critPath := writeScript(t, dir, "check_crit", "#!/bin/sh\necho \"CRITICAL - $1 unreachable\"\nexit 2\n")
	slowPath := writeScript(t, dir, "check_slow", "#!/bin/sh\nsleep 5\n")

	c := NewCommandChecker()
	ctx := context.Background()

	outcome, err := c.Check(ctx, map[string]string{"path": okPath})
	if err != nil || !outcome.Pass || outcome.Message != "OK - all good" {
		t.Fatalf("unexpected ok outcome: %+v err=%v", outcome, err)
	}

	outcome, err = c.Check(ctx, map[string]string{"path": critPath, "args": "db1"})
	if err != nil || outcome.Pass || outcome.Message != "CRITICAL - db1 unreachable" {
		t.Fatalf("unexpected critical outcome: %+v err=%v", outcome, err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	outcome, err = c.Check(shortCtx, map[string]string{"path": slowPath})
	if err != nil || outcome.Pass || !strings.Contains(outcome.Message, "timeout") {
		t.Fatalf("expected timeout outcome, got %+v err=%v", outcome, err)
	}

	if err := c.Validate(map[string]string{"path": filepath.Join(dir, "missing")}); err == nil {
		t.Fatalf("expected missing plugin rejected")
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}
