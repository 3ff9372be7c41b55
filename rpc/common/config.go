package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Shared configuration
// --------------------------------------------------------------------------

// SocketConf holds socket level options applied to every connection
type SocketConf struct {
	WriteBufferSize int  // 0 = system default
	ReadBufferSize  int  // 0 = system default
	TCPNoDelay      bool // disable Nagle's algorithm
	TCPKeepAliveSec int  // 0 = disabled
	TCPLingerSec    int  // -1 = system default
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerTransportConf holds the transport configuration of the simulated cluster
type ServerTransportConf struct {
	SocketConf

	// Endpoints holds one endpoint per node, the node id is the index
	Endpoints []string
	// WorkersPerConn limits how many requests of one connection are processed concurrently
	WorkersPerConn int
	// BufferSize is the size of the pooled read buffers
	BufferSize int
	// WriteTimeout is the deadline for writing a single response (0 = none)
	WriteTimeout time.Duration
}

// ServerConfig holds all configuration parameters of the simulated cluster.
type ServerConfig struct {
	Transport ServerTransportConf

	// Keyspace layout
	Bucket        string
	NumPartitions int
	NumReplicas   int

	// Durability simulation
	PersistDelay   time.Duration
	ReplicateDelay time.Duration

	// Metrics endpoint (host:port), empty = disabled
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Cluster layout
	addSection("Cluster")
	addField("Bucket", c.Bucket)
	addField("Nodes", strconv.Itoa(len(c.Transport.Endpoints)))
	addField("Partitions", strconv.Itoa(c.NumPartitions))
	addField("Replicas", strconv.Itoa(c.NumReplicas))

	// Durability simulation
	addSection("Durability")
	addField("Persist Delay", c.PersistDelay.String())
	addField("Replicate Delay", c.ReplicateDelay.String())

	// Transport settings
	addSection("Transport")
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Buffer Size", fmt.Sprintf("%d bytes", c.Transport.BufferSize))
	addField("Write Timeout", c.Transport.WriteTimeout.String())
	addField("TCP No Delay", strconv.FormatBool(c.Transport.TCPNoDelay))

	// Logging and metrics
	addSection("Logging")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	// Nodes
	addSection("Nodes")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConf holds the transport configuration of the client
type ClientTransportConf struct {
	SocketConf

	// Endpoints holds one endpoint per node, in topology order
	Endpoints []string
	// ConnectionsPerEndpoint is the size of the per-node connection pool
	ConnectionsPerEndpoint int
	// ReconnectBackoff is the first delay before a broken connection is re-dialed
	ReconnectBackoff time.Duration
	// WriteTimeout is the deadline for writing a single frame (0 = none)
	WriteTimeout time.Duration
}

// RetryConf configures the default retry strategy
type RetryConf struct {
	MaxAttempts    int // 0 = bounded by the timeout only
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DurabilityConf configures the durability poller
type DurabilityConf struct {
	PollInterval            time.Duration
	MaxOutstandingPerTarget int
}

// ClientConfig holds all configuration parameters of the client core
type ClientConfig struct {
	Transport  ClientTransportConf
	Retry      RetryConf
	Durability DurabilityConf

	// Keyspace layout, must match the cluster
	Bucket        string
	NumPartitions int
	NumReplicas   int

	// Timeout is the default request timeout, used when a request does not set one
	Timeout time.Duration
}

// DefaultClientConfig returns a client configuration with sensible defaults
// for the given endpoints.
func DefaultClientConfig(endpoints ...string) ClientConfig {
	return ClientConfig{
		Transport: ClientTransportConf{
			SocketConf: SocketConf{
				TCPNoDelay:   true,
				TCPLingerSec: -1,
			},
			Endpoints:              endpoints,
			ConnectionsPerEndpoint: 1,
			ReconnectBackoff:       50 * time.Millisecond,
		},
		Retry: RetryConf{
			MaxAttempts:    10,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
		},
		Durability: DurabilityConf{
			PollInterval:            10 * time.Millisecond,
			MaxOutstandingPerTarget: 1,
		},
		Bucket:        "default",
		NumPartitions: 64,
		NumReplicas:   1,
		Timeout:       2500 * time.Millisecond,
	}
}

// Validate checks the configuration for obvious mistakes
func (c *ClientConfig) Validate() error {
	if len(c.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	if c.NumPartitions <= 0 {
		return fmt.Errorf("number of partitions must be positive, got %d", c.NumPartitions)
	}
	if c.NumReplicas < 0 {
		return fmt.Errorf("number of replicas must not be negative, got %d", c.NumReplicas)
	}
	if c.Bucket == "" {
		return fmt.Errorf("no bucket provided")
	}
	return nil
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Bucket", c.Bucket)
	addField("Partitions", strconv.Itoa(c.NumPartitions))
	addField("Replicas", strconv.Itoa(c.NumReplicas))
	addField("Timeout", c.Timeout.String())

	// Retry
	addSection("Retry")
	addField("Max Attempts", strconv.Itoa(c.Retry.MaxAttempts))
	addField("Initial Backoff", c.Retry.InitialBackoff.String())
	addField("Max Backoff", c.Retry.MaxBackoff.String())

	// Durability
	addSection("Durability")
	addField("Poll Interval", c.Durability.PollInterval.String())
	addField("Max Outstanding", strconv.Itoa(c.Durability.MaxOutstandingPerTarget))

	// Transport
	addSection("Transport")
	addField("Conns Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))
	addField("Reconnect Backoff", c.Transport.ReconnectBackoff.String())
	addField("Write Timeout", c.Transport.WriteTimeout.String())
	addField("TCP No Delay", strconv.FormatBool(c.Transport.TCPNoDelay))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
