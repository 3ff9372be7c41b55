package base

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/ValentinKolb/kvcore/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// maxReconnectBackoff caps the delay between two dial attempts
const maxReconnectBackoff = 5 * time.Second

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.SocketConf) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientConnection is one physical connection. When it breaks, its slot dials a
// new clientConnection with a new id, so pending requests written on the old
// one can be told apart from requests written on the new one.
type clientConnection struct {
	id      uint64
	conn    net.Conn
	slot    *connSlot
	writeMu sync.Mutex // Serializes frame writes
	broken  atomic.Bool
}

// connSlot keeps one pooled connection to an endpoint alive
type connSlot struct {
	endpoint string
	parent   *clientTransport
	current  atomic.Pointer[clientConnection]
	dialing  atomic.Bool
}

// endpointPool holds the connection slots of one endpoint
type endpointPool struct {
	slots []*connSlot
	next  atomic.Uint64 // Round robin counter
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector  IClientConnector
	config     common.ClientTransportConf
	pools      *xsync.MapOf[string, *endpointPool]
	onFrame    transport.FrameHandler
	onLost     transport.ConnLostHandler
	nextConnID atomic.Uint64
	stopping   atomic.Bool
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{
		connector: connector,
		pools:     xsync.NewMapOf[string, *endpointPool](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientTransportConf, onFrame transport.FrameHandler, onLost transport.ConnLostHandler) error {
	if len(config.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	if onFrame == nil {
		return fmt.Errorf("no frame handler provided")
	}

	// Close all existing connections
	if t.stopCh != nil {
		t.closeConnections()
	}

	t.config = config
	t.onFrame = onFrame
	t.onLost = onLost
	t.stopping.Store(false)
	t.stopCh = make(chan struct{})

	// Set default value for ConnectionsPerEndpoint
	connectionsPerEP := max(1, config.ConnectionsPerEndpoint)

	connected := 0
	for _, endpoint := range config.Endpoints {
		pool := &endpointPool{slots: make([]*connSlot, 0, connectionsPerEP)}

		// Create multiple connections per endpoint
		for i := 0; i < connectionsPerEP; i++ {
			slot := &connSlot{endpoint: endpoint, parent: t}
			pool.slots = append(pool.slots, slot)

			if err := slot.dial(); err != nil {
				// the node may come up later, keep trying in the background
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				slot.redial()
				continue
			}
			connected++
			Logger.Debugf("Connected to %s (connection %d/%d)", endpoint, i+1, connectionsPerEP)
		}

		t.pools.Store(endpoint, pool)
	}

	// Check if we have at least one connection
	if connected == 0 {
		t.closeConnections()
		return fmt.Errorf("failed to connect to any endpoint")
	}

	Logger.Infof("Connected %d out of %d connections to %d endpoints using %s transport",
		connected, len(config.Endpoints)*connectionsPerEP, len(config.Endpoints), t.connector.GetName())

	return nil
}

func (t *clientTransport) Acquire(endpoint string) (transport.IConnection, error) {
	pool, ok := t.pools.Load(endpoint)
	if !ok {
		return nil, fmt.Errorf("%w: unknown endpoint %s", transport.ErrNoConnection, endpoint)
	}

	// Simple Round Robin algorithm, skipping broken connections
	n := uint64(len(pool.slots))
	start := uint64(0)
	if n > 1 {
		start = pool.next.Add(1)
	}
	for i := uint64(0); i < n; i++ {
		slot := pool.slots[(start+i)%n]
		if c := slot.current.Load(); c != nil && c.Healthy() {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w to %s", transport.ErrNoConnection, endpoint)
}

// Release is a no-op: connections are multiplexed, borrowing one does not make
// it exclusive and the pool alone decides when it is closed.
func (t *clientTransport) Release(conn transport.IConnection) {}

func (t *clientTransport) Close() error {
	t.closeConnections()
	t.wg.Wait()
	return nil
}

// --------------------------------------------------------------------------
// Connection Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (c *clientConnection) ID() uint64 {
	return c.id
}

func (c *clientConnection) Endpoint() string {
	return c.slot.endpoint
}

func (c *clientConnection) Healthy() bool {
	return !c.broken.Load()
}

func (c *clientConnection) WriteFrame(partition uint16, correlationID uint64, payload []byte) error {
	if c.broken.Load() {
		return fmt.Errorf("connection %d to %s is closed", c.id, c.slot.endpoint)
	}

	// Lock the connection only for writing
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout := c.slot.parent.config.WriteTimeout; timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			c.fail(err)
			return err
		}
	}

	if err := writeFrame(c.conn, uint64(partition), correlationID, payload); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// closeConnections closes all active connections and stops reconnect loops
func (t *clientTransport) closeConnections() {
	if t.stopCh == nil || !t.stopping.CompareAndSwap(false, true) {
		return
	}
	close(t.stopCh)

	t.pools.Range(func(endpoint string, pool *endpointPool) bool {
		for _, slot := range pool.slots {
			if c := slot.current.Load(); c != nil {
				c.broken.Store(true)
				c.conn.Close()
			}
		}
		t.pools.Delete(endpoint)
		return true
	})
}

// dial establishes a new connection for the slot and starts its reader
func (s *connSlot) dial() error {
	t := s.parent

	conn, err := t.connector.Connect(s.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", s.endpoint, err)
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, t.config.SocketConf); err != nil {
		conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %v", s.endpoint, err)
	}

	if t.stopping.Load() {
		conn.Close()
		return fmt.Errorf("transport is closed")
	}

	c := &clientConnection{
		id:   t.nextConnID.Add(1),
		conn: conn,
		slot: s,
	}
	s.current.Store(c)

	// Start the frame reader
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		c.readFrames()
	}()
	return nil
}

// redial reconnects the slot in the background with exponential backoff
func (s *connSlot) redial() {
	if !s.dialing.CompareAndSwap(false, true) {
		return
	}

	t := s.parent
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer s.dialing.Store(false)

		backoff := t.config.ReconnectBackoff
		if backoff <= 0 {
			backoff = 50 * time.Millisecond
		}

		for attempt := 1; ; attempt++ {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64()))
			select {
			case <-t.stopCh:
				return
			case <-time.After(jitter):
			}

			err := s.dial()
			if err == nil {
				Logger.Infof("Reconnected to %s after %d attempts", s.endpoint, attempt)
				return
			}
			Logger.Debugf("Reconnect attempt %d to %s failed: %v", attempt, s.endpoint, err)
			backoff = min(backoff*2, maxReconnectBackoff)
		}
	}()
}

// fail marks the connection broken and reports it exactly once
func (c *clientConnection) fail(err error) {
	if !c.broken.CompareAndSwap(false, true) {
		return
	}
	c.conn.Close()

	t := c.slot.parent
	if t.stopping.Load() {
		return
	}

	Logger.Warningf("Connection %d to %s lost: %v", c.id, c.slot.endpoint, err)
	if t.onLost != nil {
		t.onLost(c, err)
	}
	c.slot.redial()
}

// readFrames reads frames in a loop and hands them to the frame handler
func (c *clientConnection) readFrames() {
	for {
		partition, correlationID, data, err := readFrame(c.conn, nil)
		if err != nil {
			c.fail(err)
			return
		}
		c.slot.parent.onFrame(c, uint16(partition), correlationID, data)
	}
}
