package check

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

// Resolver is the subset of *net.Resolver used by DNSChecker.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
}

// DNSChecker resolves a name and optionally verifies an expected answer is present.
type DNSChecker struct {
	resolver Resolver
}

func NewDNSChecker(resolver Resolver) *DNSChecker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &DNSChecker{resolver: resolver}
}

func (c *DNSChecker) Type() string { return "dns" }

func (c *DNSChecker) DefaultTimeout() time.Duration { return 5 * time.Second }

func (c *DNSChecker) Validate(params map[string]string) error {
	if err := required(params, "name"); err != nil {
		return err
	}
	switch recordType(params) {
	case "A", "AAAA", "CNAME", "MX", "TXT", "NS":
	default:
		return fmt.Errorf("unsupported record_type %q", params["record_type"])
	}
	if recordType(params) == "A" || recordType(params) == "AAAA" {
		if want := params["expected"]; want != "" && net.ParseIP(want) == nil {
			return fmt.Errorf("expected %q is not an IP address", want)
		}
	}
	return nil
}

func recordType(params map[string]string) string {
	rt := strings.ToUpper(strings.TrimSpace(params["record_type"]))
	if rt == "" {
		return "A"
	}
	return rt
}

func (c *DNSChecker) Check(ctx context.Context, params map[string]string) (types.CheckOutcome, error) {
	name := params["name"]
	rt := recordType(params)

	answers, err := c.lookup(ctx, rt, name)
	if err != nil {
		return fail("resolve %s %s: %v", rt, name, err), nil
	}
	if len(answers) == 0 {
		return fail("no %s records for %s", rt, name), nil
	}

	if want := params["expected"]; want != "" {
		for _, a := range answers {
			if matchAnswer(rt, a, want) {
				return types.CheckOutcome{Pass: true, Message: fmt.Sprintf("%s %s -> %s", rt, name, a)}, nil
			}
		}
		return fail("%s %s: expected %q not in %s", rt, name, want, strings.Join(answers, ", ")), nil
	}
	return types.CheckOutcome{Pass: true, Message: fmt.Sprintf("%s %s -> %s", rt, name, strings.Join(answers, ", "))}, nil
}

func (c *DNSChecker) lookup(ctx context.Context, rt, name string) ([]string, error) {
	var out []string
	switch rt {
	case "A", "AAAA":
		addrs, err := c.resolver.LookupIPAddr(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			isV4 := a.IP.To4() != nil
			if (rt == "A") == isV4 {
				out = append(out, a.IP.String())
			}
		}
	case "CNAME":
		cname, err := c.resolver.LookupCNAME(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, cname)
	case "MX":
		mxs, err := c.resolver.LookupMX(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, mx := range mxs {
			out = append(out, mx.Host)
		}
	case "TXT":
		return c.resolver.LookupTXT(ctx, name)
	case "NS":
		nss, err := c.resolver.LookupNS(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, ns := range nss {
			out = append(out, ns.Host)
		}
	}
	return out, nil
}

func matchAnswer(rt, answer, want string) bool {
	switch rt {
	case "A", "AAAA":
		return net.ParseIP(answer).Equal(net.ParseIP(want))
	case "TXT":
		return strings.Contains(answer, want)
	default:
		return strings.EqualFold(strings.TrimSuffix(answer, "."), strings.TrimSuffix(want, "."))
	}
}
