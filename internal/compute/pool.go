// Package compute drives the Docker-compatible daemons on workspace hosts:
// container lifecycle, bandwidth shaping, filesystem quota provisioning, the
// uniform exec/files/git RPC surface, and container/host stats collection.
package compute

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/client"
)

// Conn is one host's Docker connection, tracked for health and capacity.
type Conn struct {
	HostID   string
	Address  string
	Arch     string
	TLS      bool
	CertPath string

	Client *client.Client

	mu        sync.Mutex
	healthy   bool
	lastError error
}

func (c *Conn) setHealth(healthy bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = healthy
	c.lastError = err
}

// Healthy reports the connection's last-observed reachability.
func (c *Conn) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// LastError returns the error from the most recent health probe, if any.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Pool holds one Conn per registered host. Connection add/remove is guarded
// by poolMu; per-connection Docker calls run without holding it.
type Pool struct {
	poolMu sync.RWMutex
	conns  map[string]*Conn
}

// NewPool returns an empty connection pool.
func NewPool() *Pool {
	return &Pool{conns: make(map[string]*Conn)}
}

// HostOpts describes how to dial a workspace host's Docker daemon.
type HostOpts struct {
	HostID   string
	Address  string
	Arch     string
	TLS      bool
	CertPath string
}

// Add dials opts.Address and registers the connection under opts.HostID,
// replacing any prior connection for that host.
func (p *Pool) Add(opts HostOpts) (*Conn, error) {
	clientOpts := []client.Opt{
		client.WithHost(opts.Address),
		client.WithAPIVersionNegotiation(),
	}
	if opts.TLS {
		clientOpts = append(clientOpts, client.WithTLSClientConfigFromEnv())
	}

	dockerClient, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("compute: dial host %s: %w", opts.HostID, err)
	}

	conn := &Conn{
		HostID:   opts.HostID,
		Address:  opts.Address,
		Arch:     opts.Arch,
		TLS:      opts.TLS,
		CertPath: opts.CertPath,
		Client:   dockerClient,
		healthy:  true,
	}

	p.poolMu.Lock()
	p.conns[opts.HostID] = conn
	p.poolMu.Unlock()
	return conn, nil
}

// Remove closes and drops the connection for hostID, if present.
func (p *Pool) Remove(hostID string) {
	p.poolMu.Lock()
	conn, ok := p.conns[hostID]
	delete(p.conns, hostID)
	p.poolMu.Unlock()

	if ok {
		_ = conn.Client.Close()
	}
}

// Get returns the connection for hostID.
func (p *Pool) Get(hostID string) (*Conn, bool) {
	p.poolMu.RLock()
	defer p.poolMu.RUnlock()
	conn, ok := p.conns[hostID]
	return conn, ok
}

// All returns a snapshot of every registered connection.
func (p *Pool) All() []*Conn {
	p.poolMu.RLock()
	defer p.poolMu.RUnlock()
	out := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c)
	}
	return out
}

// Ping probes a host's Docker daemon and records the result on the Conn.
func (p *Pool) Ping(ctx context.Context, hostID string) error {
	conn, ok := p.Get(hostID)
	if !ok {
		return fmt.Errorf("compute: unknown host %q", hostID)
	}
	_, err := conn.Client.Ping(ctx)
	conn.setHealth(err == nil, err)
	return err
}
