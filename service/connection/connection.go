// Package connection owns the single link between the toolbox and an Ollama server:
// the configuration asked for, the state it ended in, and the client handle when connected.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"llmtoolbox/clients/ollama"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

type State int

const (
	NotConnected State = iota
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "Not Connected"
	case Connected:
		return "Connected"
	case Failed:
		return "Connection Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for _, candidate := range []State{NotConnected, Connected, Failed} {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", name)
}

type Config struct {
	Host  string `json:"host"`
	Model string `json:"model"`
}

var ErrModelRequired = errors.New("model is required")

// ConnectionError is why a connect attempt ended in Failed.
type ConnectionError struct {
	Config Config
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s with model %q: %v", e.Config.Host, e.Config.Model, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Status is a snapshot of the Manager, safe to hand out.
type Status struct {
	State         State                `json:"state"`
	Reason        string               `json:"reason,omitempty"`
	Config        Config               `json:"config"`
	ServerVersion string               `json:"serverVersion,omitempty"`
	Model         *ollama.ModelDetails `json:"model,omitempty"`
}

// DefaultProbeTimeout bounds both checks of a connect together.
const DefaultProbeTimeout = 10 * time.Second

type Manager struct {
	mu sync.Mutex

	config  Config
	state   State
	reason  string
	client  *ollama.Client
	version string
	details *ollama.ModelDetails

	probeTimeout time.Duration
	httpClient   *http.Client
	onConnected  func(ctx context.Context, config Config)
}

type Option func(*Manager)

func WithProbeTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.probeTimeout = timeout
	}
}

// WithHTTPClient sets the http.Client every created ollama.Client uses.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = httpClient
	}
}

// WithOnConnected registers a hook run after each successful connect, outside the lock.
func WithOnConnected(hook func(ctx context.Context, config Config)) Option {
	return func(m *Manager) {
		m.onConnected = hook
	}
}

// NewManager returns a Manager in NotConnected holding the initial config.
// Nothing is dialed until Connect.
func NewManager(initial Config, opts ...Option) *Manager {
	ret := &Manager{
		config:       initial,
		state:        NotConnected,
		probeTimeout: DefaultProbeTimeout,
		httpClient:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Connect replaces the configuration with config, then probes the server and the model.
// It returns nil on success. On failure it returns a *ConnectionError, and any previous
// client is dropped even if the previous session was healthy.
//
// Concurrent calls are serialized; the last one to finish wins.
func (m *Manager) Connect(ctx context.Context, config Config) error {
	config.Host = strings.TrimSpace(config.Host)
	config.Model = strings.TrimSpace(config.Model)

	m.mu.Lock()
	m.config = config
	client, version, details, err := m.probe(ctx, config)
	if err != nil {
		m.client = nil
		m.version = ""
		m.details = nil
		m.state = Failed
		m.reason = err.Error()
		m.mu.Unlock()

		slog.Warn("connection failed", "host", config.Host, "model", config.Model, "err", err)
		return &ConnectionError{Config: config, Err: err}
	}
	m.client = client
	m.version = version
	m.details = details
	m.state = Connected
	m.reason = ""
	m.mu.Unlock()

	slog.Info("connected", "host", config.Host, "model", config.Model, "version", version)
	if m.onConnected != nil {
		m.onConnected(ctx, config)
	}
	return nil
}

// Reconnect runs Connect again with the last configuration asked for.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	config := m.config
	m.mu.Unlock()
	return m.Connect(ctx, config)
}

// probe checks reachability first, then the model. Both must pass.
func (m *Manager) probe(ctx context.Context, config Config) (
	client *ollama.Client,
	version string,
	details *ollama.ModelDetails,
	err error,
) {
	if config.Model == "" {
		return nil, "", nil, ErrModelRequired
	}
	client, err = ollama.New(config.Host, ollama.WithHTTPClient(m.httpClient))
	if err != nil {
		return nil, "", nil, err
	}

	if m.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.probeTimeout)
		defer cancel()
	}

	version, err = client.Version(ctx)
	if err != nil {
		return nil, "", nil, err
	}
	show, err := client.Show(ctx, config.Model)
	if err != nil {
		return nil, "", nil, err
	}
	return client, version, &show.Details, nil
}

// Client returns the live client with the configuration it was made for.
// ok is false unless the state is Connected.
func (m *Manager) Client() (client *ollama.Client, config Config, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.client == nil {
		return nil, m.config, false
	}
	return m.client, m.config, true
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := Status{
		State:         m.state,
		Reason:        m.reason,
		Config:        m.config,
		ServerVersion: m.version,
	}
	if m.details != nil {
		details := *m.details
		ret.Model = &details
	}
	return ret
}
