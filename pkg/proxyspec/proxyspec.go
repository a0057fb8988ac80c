// Package proxyspec parses upstream proxy descriptors out of
// scheme://[user:pass@]host:port[/weight] strings and loads ordered lists
// of them from text files.
package proxyspec

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tboy1337/multisocks/pkg/protocol"
)

// InvalidProxySpec is returned for any parse-time failure: unknown scheme,
// missing port, a non-numeric or out-of-range port/weight, or credentials
// supplied on a scheme that does not support them.
type InvalidProxySpec struct {
	Raw    string
	Reason string
}

func (e *InvalidProxySpec) Error() string {
	return fmt.Sprintf("invalid proxy spec %q: %s", e.Raw, e.Reason)
}

// Credentials holds an optional SOCKS5/5h username/password pair.
type Credentials struct {
	Username string
	Password string
}

// Descriptor is an immutable, parsed proxy endpoint. Id is the descriptor's
// stable index into the pool it belongs to.
type Descriptor struct {
	ID          int
	Scheme      protocol.Scheme
	Host        string // DNS name or bare IP literal (no brackets)
	Port        uint16
	Credentials *Credentials
	Weight      int
}

// String renders the descriptor back into its canonical spec form.
func (d *Descriptor) String() string {
	host := d.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	var userinfo string
	if d.Credentials != nil {
		userinfo = url.UserPassword(d.Credentials.Username, d.Credentials.Password).String() + "@"
	}

	s := fmt.Sprintf("%s://%s%s:%d", d.Scheme, userinfo, host, d.Port)
	if d.Weight != 1 {
		s += fmt.Sprintf("/%d", d.Weight)
	}
	return s
}

func parseScheme(raw string) (protocol.Scheme, error) {
	switch strings.ToLower(raw) {
	case "socks4":
		return protocol.SOCKS4, nil
	case "socks4a":
		return protocol.SOCKS4A, nil
	case "socks5":
		return protocol.SOCKS5, nil
	case "socks5h":
		return protocol.SOCKS5H, nil
	default:
		return 0, fmt.Errorf("unknown scheme %q", raw)
	}
}

// Parse parses a single proxy spec string, assigning it the given pool id.
func Parse(raw string, id int) (*Descriptor, error) {
	trimmed := strings.TrimSpace(raw)

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, &InvalidProxySpec{Raw: raw, Reason: fmt.Sprintf("malformed spec: %v", err)}
	}
	if u.Scheme == "" {
		return nil, &InvalidProxySpec{Raw: raw, Reason: "missing scheme"}
	}

	scheme, err := parseScheme(u.Scheme)
	if err != nil {
		return nil, &InvalidProxySpec{Raw: raw, Reason: err.Error()}
	}

	if u.Host == "" {
		return nil, &InvalidProxySpec{Raw: raw, Reason: "missing host"}
	}

	host, portStr, err := splitHostPort(u.Host)
	if err != nil {
		return nil, &InvalidProxySpec{Raw: raw, Reason: "missing port"}
	}

	portNum, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || portNum == 0 {
		return nil, &InvalidProxySpec{Raw: raw, Reason: fmt.Sprintf("invalid port %q", portStr)}
	}

	weight := 1
	if path := strings.TrimPrefix(u.Path, "/"); path != "" {
		w, err := strconv.Atoi(path)
		if err != nil || w <= 0 {
			return nil, &InvalidProxySpec{Raw: raw, Reason: fmt.Sprintf("invalid weight %q", path)}
		}
		weight = w
	}

	var creds *Credentials
	if u.User != nil {
		if scheme == protocol.SOCKS4 || scheme == protocol.SOCKS4A {
			return nil, &InvalidProxySpec{Raw: raw, Reason: "credentials are not supported on socks4/socks4a"}
		}
		password, _ := u.User.Password()
		creds = &Credentials{Username: u.User.Username(), Password: password}
	}

	return &Descriptor{
		ID:          id,
		Scheme:      scheme,
		Host:        host,
		Port:        uint16(portNum),
		Credentials: creds,
		Weight:      weight,
	}, nil
}

// splitHostPort splits a url.URL.Host, which keeps the brackets around an
// IPv6 literal, into bare host (brackets removed) and port, requiring a port.
func splitHostPort(hostport string) (host, port string, err error) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.Index(hostport, "]")
		if end < 0 {
			return "", "", fmt.Errorf("unterminated IPv6 literal")
		}
		host = hostport[1:end]
		rest := hostport[end+1:]
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", fmt.Errorf("missing port")
		}
		return host, rest[1:], nil
	}

	idx := strings.LastIndex(hostport, ":")
	if idx < 0 || idx == len(hostport)-1 {
		return "", "", fmt.Errorf("missing port")
	}
	return hostport[:idx], hostport[idx+1:], nil
}
