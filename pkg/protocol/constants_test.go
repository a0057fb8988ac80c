package protocol

import "testing"

func TestSchemeString(t *testing.T) {
	cases := map[Scheme]string{
		SOCKS4:  "socks4",
		SOCKS4A: "socks4a",
		SOCKS5:  "socks5",
		SOCKS5H: "socks5h",
		Scheme(99): "unknown",
	}
	for scheme, want := range cases {
		if got := scheme.String(); got != want {
			t.Errorf("Scheme(%d).String() = %q, want %q", scheme, got, want)
		}
	}
}

func TestDefaultsArePositive(t *testing.T) {
	if DefaultFMax <= 0 {
		t.Error("DefaultFMax should be positive")
	}
	if DefaultProbeInterval <= 0 {
		t.Error("DefaultProbeInterval should be positive")
	}
	if DefaultReoptimizeInterval <= 0 {
		t.Error("DefaultReoptimizeInterval should be positive")
	}
	if DefaultMaxAttempts <= 0 {
		t.Error("DefaultMaxAttempts should be positive")
	}
	if MinBackoffSeconds <= 0 || MaxBackoffSeconds <= MinBackoffSeconds {
		t.Error("backoff bounds should be positive and increasing")
	}
	if RelayBufferSize <= 0 {
		t.Error("RelayBufferSize should be positive")
	}
}

func TestUpstreamHandshakeTimeout(t *testing.T) {
	if UpstreamHandshakeTimeoutSeconds <= 0 {
		t.Error("UpstreamHandshakeTimeoutSeconds should be positive")
	}
	if ProbeTimeoutSeconds <= 0 {
		t.Error("ProbeTimeoutSeconds should be positive")
	}
	if OptimizerFetchTimeoutSeconds <= 0 {
		t.Error("OptimizerFetchTimeoutSeconds should be positive")
	}
}
