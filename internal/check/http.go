package check

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/irisetthq/irisett/pkg/types"
)

const maxHTTPBody = 1 << 20

// HTTPChecker issues a request and checks status code and optionally body content.
type HTTPChecker struct {
	client *http.Client
}

func NewHTTPChecker(client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		}
	}
	return &HTTPChecker{client: client}
}

func (c *HTTPChecker) Type() string { return "http" }

func (c *HTTPChecker) DefaultTimeout() time.Duration { return 10 * time.Second }

func (c *HTTPChecker) Validate(params map[string]string) error {
	if err := required(params, "url"); err != nil {
		return err
	}
	u, err := url.Parse(params["url"])
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q must be an absolute http(s) URL", params["url"])
	}
	if raw := params["expected_status"]; raw != "" {
		if _, err := strconv.Atoi(raw); err != nil {
			return fmt.Errorf("expected_status %q is not a number", raw)
		}
	}
	return nil
}

func (c *HTTPChecker) Check(ctx context.Context, params map[string]string) (types.CheckOutcome, error) {
	method := strings.ToUpper(strings.TrimSpace(params["method"]))
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, params["url"], nil)
	if err != nil {
		return types.CheckOutcome{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	req.Header.Set("User-Agent", "irisett")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fail("request failed: %v", err), nil
	}
	defer resp.Body.Close()

	if want := params["expected_status"]; want != "" {
		code, _ := strconv.Atoi(want)
		if resp.StatusCode != code {
			return fail("unexpected status %d, want %d", resp.StatusCode, code), nil
		}
	} else if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fail("unexpected status %s", resp.Status), nil
	}

	if needle := params["contains"]; needle != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
		if err != nil {
			return fail("read body: %v", err), nil
		}
		if !strings.Contains(string(body), needle) {
			return fail("response body does not contain %q", needle), nil
		}
	}

	return types.CheckOutcome{
		Pass:     true,
		Message:  resp.Status,
		Duration: time.Since(start),
	}, nil
}
