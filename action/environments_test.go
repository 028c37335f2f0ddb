package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	coreerrors "zkescrow/core/errors"
)

func writeEnvFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "environments.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadEnvironments(t *testing.T) {
	path := writeEnvFile(t, `
- environment: Polygon
  endpoint: https://polygon.receiver.test/rpc
  auth_token: secret
  methods: [mintBadge, transfer]
  timeout_seconds: 5
- environment: arbitrum
  lookup: _escrow.arbitrum.example.org
`)
	envs, err := LoadEnvironments(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(envs) != 2 {
		t.Fatalf("loaded %d environments, want 2", len(envs))
	}
	if envs[0].Name != "arbitrum" || envs[1].Name != "polygon" {
		t.Fatalf("environments not sorted by name: %s, %s", envs[0].Name, envs[1].Name)
	}
	if envs[0].Timeout != defaultDispatchTimeout {
		t.Fatalf("default timeout = %s, want %s", envs[0].Timeout, defaultDispatchTimeout)
	}
	if envs[1].Timeout != 5*time.Second {
		t.Fatalf("explicit timeout = %s, want 5s", envs[1].Timeout)
	}
	if envs[1].AuthToken != "secret" || len(envs[1].Methods) != 2 {
		t.Fatalf("unexpected polygon entry %+v", envs[1])
	}
}

func TestLoadEnvironmentsRejectsBadEntries(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"duplicate", "- environment: polygon\n  endpoint: https://a\n- environment: Polygon\n  endpoint: https://b\n"},
		{"missing name", "- endpoint: https://a\n"},
		{"missing route", "- environment: polygon\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadEnvironments(writeEnvFile(t, tc.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseEndpointTXT(t *testing.T) {
	cases := []struct {
		record   string
		endpoint string
		env      string
		notAfter int64
		wantErr  bool
	}{
		{record: "endpoint=https://a.test env=polygon notafter=1900000000", endpoint: "https://a.test", env: "polygon", notAfter: 1900000000},
		{record: "endpoint=https://a.test", endpoint: "https://a.test"},
		{record: "env=polygon", wantErr: true},
		{record: "endpoint=https://a.test notafter=soon", wantErr: true},
		{record: "v=spf1 include:example.org", wantErr: true},
	}
	for _, tc := range cases {
		endpoint, env, notAfter, err := parseEndpointTXT(tc.record)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("record %q: expected error", tc.record)
			}
			continue
		}
		if err != nil {
			t.Fatalf("record %q: %v", tc.record, err)
		}
		if endpoint != tc.endpoint || env != tc.env || notAfter != tc.notAfter {
			t.Fatalf("record %q parsed to (%q, %q, %d)", tc.record, endpoint, env, notAfter)
		}
	}
}

type stubResolver struct {
	records map[string][]string
	calls   int
}

func (s *stubResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	s.calls++
	records, ok := s.records[name]
	if !ok {
		return nil, fmt.Errorf("no such host %s", name)
	}
	return records, nil
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry(Environment{Name: "polygon", Endpoint: "https://static.test/rpc"})

	env, err := registry.Resolve(context.Background(), "Polygon")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env.Endpoint != "https://static.test/rpc" {
		t.Fatalf("endpoint = %q", env.Endpoint)
	}

	if _, err := registry.Resolve(context.Background(), "solana"); !errors.Is(err, coreerrors.ErrUnsupportedEnvironment) {
		t.Fatalf("expected ErrUnsupportedEnvironment, got %v", err)
	}
}

func TestRegistryDiscoversEndpointsFromTXT(t *testing.T) {
	resolver := &stubResolver{records: map[string][]string{
		"_escrow.arbitrum.example.org": {
			"v=spf1 include:example.org",
			"endpoint=https://stale.test env=arbitrum notafter=100",
			"endpoint=https://live.test env=arbitrum notafter=2000",
		},
	}}
	registry := NewRegistry(Environment{Name: "arbitrum", Lookup: "_escrow.arbitrum.example.org"})
	registry.SetResolver(resolver)

	now := int64(1000)
	registry.SetNowFunc(func() int64 { return now })

	env, err := registry.Resolve(context.Background(), "arbitrum")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env.Endpoint != "https://live.test" {
		t.Fatalf("endpoint = %q, want the unexpired record", env.Endpoint)
	}
	if resolver.calls != 1 {
		t.Fatalf("lookup count = %d, want 1", resolver.calls)
	}

	// Within the validity window the cached endpoint is reused.
	if _, err := registry.Resolve(context.Background(), "arbitrum"); err != nil {
		t.Fatalf("cached resolve: %v", err)
	}
	if resolver.calls != 1 {
		t.Fatalf("lookup count after cached resolve = %d, want 1", resolver.calls)
	}

	// Expiry forces a fresh lookup.
	now = 3000
	resolver.records["_escrow.arbitrum.example.org"] = []string{"endpoint=https://renewed.test env=arbitrum notafter=4000"}
	env, err = registry.Resolve(context.Background(), "arbitrum")
	if err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if env.Endpoint != "https://renewed.test" {
		t.Fatalf("endpoint after expiry = %q", env.Endpoint)
	}
	if resolver.calls != 2 {
		t.Fatalf("lookup count after expiry = %d, want 2", resolver.calls)
	}

	if _, err := registry.Resolve(context.Background(), "unknown"); !errors.Is(err, coreerrors.ErrUnsupportedEnvironment) {
		t.Fatalf("expected ErrUnsupportedEnvironment, got %v", err)
	}
}

func TestAllowsMethod(t *testing.T) {
	open := Environment{Name: "open"}
	if !open.AllowsMethod("anything") {
		t.Fatal("empty allow-list should permit all methods")
	}
	restricted := Environment{Name: "strict", Methods: []string{"mintBadge"}}
	if !restricted.AllowsMethod("MintBadge") {
		t.Fatal("allow-list match should be case-insensitive")
	}
	if restricted.AllowsMethod("transfer") {
		t.Fatal("method outside allow-list permitted")
	}
}
