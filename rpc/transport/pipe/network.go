package pipe

import (
	"fmt"
	"net"
	"sync"

	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/ValentinKolb/kvcore/rpc/transport"
	"github.com/ValentinKolb/kvcore/rpc/transport/base"
	"github.com/puzpuzpuz/xsync/v3"
)

// Network is an in-process network. Endpoints are arbitrary names, every dial
// creates a synchronous net.Pipe whose server end is accepted by the listener
// registered for the endpoint.
type Network struct {
	listeners *xsync.MapOf[string, *listener]
}

// NewNetwork creates a new empty in-process network
func NewNetwork() *Network {
	return &Network{
		listeners: xsync.NewMapOf[string, *listener](),
	}
}

// ClientTransport creates a client transport that dials into this network
func (n *Network) ClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(&clientConnector{network: n})
}

// ServerTransport creates a server transport that listens on this network
func (n *Network) ServerTransport(config common.ServerTransportConf) transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{network: n}, config)
}

// Dial connects to the listener of endpoint
func (n *Network) Dial(endpoint string) (net.Conn, error) {
	l, ok := n.listeners.Load(endpoint)
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", endpoint)
	}

	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
		client.Close()
		server.Close()
		return nil, fmt.Errorf("dial %s: connection refused", endpoint)
	}
}

// Listen registers a listener for endpoint
func (n *Network) Listen(endpoint string) (net.Listener, error) {
	l := &listener{
		network:  n,
		endpoint: endpoint,
		conns:    make(chan net.Conn),
		done:     make(chan struct{}),
	}
	if _, loaded := n.listeners.LoadOrStore(endpoint, l); loaded {
		return nil, fmt.Errorf("listen %s: address already in use", endpoint)
	}
	return l, nil
}

// --------------------------------------------------------------------------
// Listener (implements net.Listener)
// --------------------------------------------------------------------------

type listener struct {
	network  *Network
	endpoint string
	conns    chan net.Conn
	done     chan struct{}
	once     sync.Once
}

func (l *listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *listener) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.network.listeners.Compute(l.endpoint, func(old *listener, loaded bool) (*listener, bool) {
			// only remove ourselves, a new listener may already own the endpoint
			return old, !loaded || old == l
		})
	})
	return nil
}

func (l *listener) Addr() net.Addr {
	return addr(l.endpoint)
}

// addr implements net.Addr for pipe endpoints
type addr string

func (a addr) Network() string { return "pipe" }
func (a addr) String() string  { return string(a) }

// --------------------------------------------------------------------------
// Connectors (implement base.IClientConnector and base.IServerConnector)
// --------------------------------------------------------------------------

type clientConnector struct {
	network *Network
}

func (c *clientConnector) GetName() string {
	return "pipe"
}

func (c *clientConnector) Connect(endpoint string) (net.Conn, error) {
	return c.network.Dial(endpoint)
}

func (c *clientConnector) UpgradeConnection(net.Conn, common.SocketConf) error {
	return nil
}

type serverConnector struct {
	network *Network
}

func (c *serverConnector) GetName() string {
	return "pipe"
}

func (c *serverConnector) Listen(endpoint string) (net.Listener, error) {
	return c.network.Listen(endpoint)
}

func (c *serverConnector) UpgradeConnection(net.Conn, common.SocketConf) error {
	return nil
}
