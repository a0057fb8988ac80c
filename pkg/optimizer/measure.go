package optimizer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tboy1337/multisocks/pkg/proxyspec"
	"github.com/tboy1337/multisocks/pkg/socksclient"
)

// measureDirect fetches targetURL with no proxy and returns the achieved
// bandwidth in bits/sec.
func measureDirect(ctx context.Context, targetURL string) (float64, error) {
	return fetchBandwidth(ctx, http.DefaultClient, targetURL)
}

// measureViaProxy fetches targetURL through desc and returns the
// achieved bandwidth in bits/sec.
func measureViaProxy(ctx context.Context, desc *proxyspec.Descriptor, targetURL string) (float64, error) {
	target, err := parseTarget(targetURL)
	if err != nil {
		return 0, err
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, _, _ string) (net.Conn, error) {
				return socksclient.Connect(dialCtx, desc, target)
			},
		},
	}
	return fetchBandwidth(ctx, client, targetURL)
}

func fetchBandwidth(ctx context.Context, client *http.Client, targetURL string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return 0, fmt.Errorf("optimizer: building request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("optimizer: fetching %s: %w", targetURL, err)
	}
	defer resp.Body.Close()

	n, copyErr := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		elapsed = 0.001
	}

	if copyErr != nil && n == 0 {
		return 0, fmt.Errorf("optimizer: reading response body: %w", copyErr)
	}

	return float64(n*8) / elapsed, nil
}

// parseTarget extracts the (host, port) pair the optimizer's HTTP
// fetches resolve to, for use as the socksclient.Target sent in the
// upstream CONNECT request.
func parseTarget(targetURL string) (socksclient.Target, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return socksclient.Target{}, fmt.Errorf("optimizer: parsing target URL: %w", err)
	}

	portStr := u.Port()
	if portStr == "" {
		if u.Scheme == "https" {
			portStr = "443"
		} else {
			portStr = "80"
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return socksclient.Target{}, fmt.Errorf("optimizer: invalid port in target URL: %w", err)
	}

	return socksclient.NewTarget(u.Hostname(), uint16(port)), nil
}
