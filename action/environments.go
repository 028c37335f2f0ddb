package action

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	coreerrors "zkescrow/core/errors"
)

const defaultDispatchTimeout = 30 * time.Second

// Environment describes one remote execution environment the trigger can
// route actions to. Either Endpoint is set statically or Lookup names a DNS
// TXT record advertising it.
type Environment struct {
	Name      string
	Endpoint  string
	AuthToken string
	Methods   []string
	Timeout   time.Duration
	Lookup    string
}

// environmentFile mirrors the YAML representation of an environment entry.
type environmentFile struct {
	Environment    string   `yaml:"environment"`
	Endpoint       string   `yaml:"endpoint"`
	AuthToken      string   `yaml:"auth_token"`
	Methods        []string `yaml:"methods"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Lookup         string   `yaml:"lookup"`
}

// LoadEnvironments reads environment routes from the provided YAML file.
func LoadEnvironments(path string) ([]Environment, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open environments: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	var entries []environmentFile
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode environments: %w", err)
	}
	envs := make([]Environment, 0, len(entries))
	seen := make(map[string]struct{})
	for _, entry := range entries {
		name := strings.ToLower(strings.TrimSpace(entry.Environment))
		if name == "" {
			return nil, fmt.Errorf("environment name required")
		}
		if _, exists := seen[name]; exists {
			return nil, fmt.Errorf("duplicate environment %s", name)
		}
		seen[name] = struct{}{}
		endpoint := strings.TrimSpace(entry.Endpoint)
		lookup := strings.TrimSpace(entry.Lookup)
		if endpoint == "" && lookup == "" {
			return nil, fmt.Errorf("environment %s: endpoint or lookup required", name)
		}
		timeout := defaultDispatchTimeout
		if entry.TimeoutSeconds > 0 {
			timeout = time.Duration(entry.TimeoutSeconds) * time.Second
		}
		envs = append(envs, Environment{
			Name:      name,
			Endpoint:  endpoint,
			AuthToken: strings.TrimSpace(entry.AuthToken),
			Methods:   append([]string(nil), entry.Methods...),
			Timeout:   timeout,
			Lookup:    lookup,
		})
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Name < envs[j].Name })
	return envs, nil
}

// Resolver abstracts DNS TXT lookups so tests can supply in-memory fixtures.
type Resolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type netResolver struct {
	resolver *net.Resolver
}

func (n *netResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	return n.resolver.LookupTXT(ctx, name)
}

// Registry resolves environment identifiers to dispatch endpoints. Entries
// with a DNS lookup are resolved lazily and re-resolved once their advertised
// validity window lapses.
type Registry struct {
	mu       sync.RWMutex
	envs     map[string]Environment
	resolver Resolver
	nowFn    func() int64

	cached map[string]resolvedEndpoint
}

type resolvedEndpoint struct {
	endpoint string
	notAfter int64
}

// NewRegistry builds a registry from static environment definitions.
func NewRegistry(envs ...Environment) *Registry {
	r := &Registry{
		envs:   make(map[string]Environment, len(envs)),
		cached: make(map[string]resolvedEndpoint),
		nowFn:  func() int64 { return time.Now().Unix() },
	}
	for _, env := range envs {
		r.envs[strings.ToLower(env.Name)] = env
	}
	return r
}

// SetResolver overrides the DNS resolver used for lookup-based environments.
func (r *Registry) SetResolver(resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = resolver
}

// SetNowFunc overrides the registry clock. Primarily intended for tests.
func (r *Registry) SetNowFunc(now func() int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

// Names lists the configured environment identifiers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.envs))
	for name := range r.envs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the environment definition with a dispatchable endpoint, or
// ErrUnsupportedEnvironment when no route exists.
func (r *Registry) Resolve(ctx context.Context, name string) (Environment, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	env, ok := r.envs[key]
	r.mu.RUnlock()
	if !ok {
		return Environment{}, fmt.Errorf("%w: %s", coreerrors.ErrUnsupportedEnvironment, name)
	}
	if env.Endpoint != "" {
		return env, nil
	}
	endpoint, err := r.discover(ctx, key, env.Lookup)
	if err != nil {
		return Environment{}, fmt.Errorf("%w: %s: %v", coreerrors.ErrUnsupportedEnvironment, name, err)
	}
	env.Endpoint = endpoint
	return env, nil
}

// discover resolves an environment endpoint from DNS TXT records of the form
// "endpoint=<url> env=<name> notafter=<unix>".
func (r *Registry) discover(ctx context.Context, name, lookup string) (string, error) {
	r.mu.RLock()
	if cached, ok := r.cached[name]; ok {
		if cached.notAfter == 0 || r.nowFn() <= cached.notAfter {
			r.mu.RUnlock()
			return cached.endpoint, nil
		}
	}
	resolver := r.resolver
	now := r.nowFn()
	r.mu.RUnlock()

	if resolver == nil {
		resolver = &netResolver{resolver: net.DefaultResolver}
	}
	records, err := resolver.LookupTXT(ctx, lookup)
	if err != nil {
		return "", fmt.Errorf("dns %s lookup failed: %w", lookup, err)
	}
	for _, record := range records {
		endpoint, env, notAfter, err := parseEndpointTXT(record)
		if err != nil {
			continue
		}
		if env != "" && env != name {
			continue
		}
		if notAfter > 0 && now > notAfter {
			continue
		}
		r.mu.Lock()
		r.cached[name] = resolvedEndpoint{endpoint: endpoint, notAfter: notAfter}
		r.mu.Unlock()
		return endpoint, nil
	}
	return "", fmt.Errorf("no valid endpoint record at %s", lookup)
}

func parseEndpointTXT(record string) (endpoint, env string, notAfter int64, err error) {
	for _, field := range strings.Fields(record) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "endpoint":
			endpoint = value
		case "env":
			env = strings.ToLower(value)
		case "notafter":
			parsed, perr := strconv.ParseInt(value, 10, 64)
			if perr != nil {
				return "", "", 0, fmt.Errorf("invalid notafter %q", value)
			}
			notAfter = parsed
		}
	}
	if endpoint == "" {
		return "", "", 0, fmt.Errorf("record missing endpoint")
	}
	return endpoint, env, notAfter, nil
}

// AllowsMethod reports whether the environment permits the method. An empty
// allow-list permits everything.
func (e Environment) AllowsMethod(method string) bool {
	if len(e.Methods) == 0 {
		return true
	}
	for _, m := range e.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
