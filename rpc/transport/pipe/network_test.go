package pipe

import (
	"bytes"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/kvcore/rpc/common"
	"github.com/ValentinKolb/kvcore/rpc/transport"
)

type frame struct {
	connID        uint64
	partition     uint16
	correlationID uint64
	payload       []byte
}

// startEchoServer starts a server transport that echoes the request with a prefix
func startEchoServer(t *testing.T, network *Network, endpoint string) transport.IRPCServerTransport {
	t.Helper()

	srv := network.ServerTransport(common.ServerTransportConf{WorkersPerConn: 4})
	srv.RegisterHandler(func(partition uint16, req []byte) []byte {
		return append([]byte("echo:"), req...)
	})
	go srv.Listen(endpoint)
	<-srv.Started()
	return srv
}

func TestRoundTrip(t *testing.T) {
	network := NewNetwork()
	srv := startEchoServer(t, network, "node-0")
	defer srv.Close()

	frames := make(chan frame, 16)
	cli := network.ClientTransport()
	err := cli.Connect(common.ClientTransportConf{Endpoints: []string{"node-0"}, ConnectionsPerEndpoint: 2},
		func(conn transport.IConnection, partition uint16, correlationID uint64, payload []byte) {
			frames <- frame{conn.ID(), partition, correlationID, payload}
		}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer cli.Close()

	conn, err := cli.Acquire("node-0")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer cli.Release(conn)

	if err := conn.WriteFrame(7, 42, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	select {
	case f := <-frames:
		if f.partition != 7 || f.correlationID != 42 {
			t.Errorf("frame header = (%d, %d), want (7, 42)", f.partition, f.correlationID)
		}
		if !bytes.Equal(f.payload, []byte("echo:hello")) {
			t.Errorf("payload = %q, want %q", f.payload, "echo:hello")
		}
		if f.connID != conn.ID() {
			t.Errorf("connID = %d, want %d", f.connID, conn.ID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no response received")
	}
}

func TestConcurrentFrames(t *testing.T) {
	network := NewNetwork()
	srv := startEchoServer(t, network, "node-0")
	defer srv.Close()

	const n = 100
	var mu sync.Mutex
	seen := make(map[uint64]bool)
	done := make(chan struct{})

	cli := network.ClientTransport()
	err := cli.Connect(common.ClientTransportConf{Endpoints: []string{"node-0"}, ConnectionsPerEndpoint: 3},
		func(conn transport.IConnection, partition uint16, correlationID uint64, payload []byte) {
			mu.Lock()
			defer mu.Unlock()
			seen[correlationID] = true
			if len(seen) == n {
				close(done)
			}
		}, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer cli.Close()

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			conn, err := cli.Acquire("node-0")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			if err := conn.WriteFrame(0, id, []byte("x")); err != nil {
				t.Errorf("WriteFrame() error = %v", err)
			}
		}(uint64(i))
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		mu.Lock()
		got := len(seen)
		mu.Unlock()
		t.Fatalf("received %d of %d responses", got, n)
	}
}

func TestAcquireUnknownEndpoint(t *testing.T) {
	network := NewNetwork()
	srv := startEchoServer(t, network, "node-0")
	defer srv.Close()

	cli := network.ClientTransport()
	if err := cli.Connect(common.ClientTransportConf{Endpoints: []string{"node-0"}},
		func(transport.IConnection, uint16, uint64, []byte) {}, nil); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer cli.Close()

	if _, err := cli.Acquire("node-9"); !errors.Is(err, transport.ErrNoConnection) {
		t.Errorf("Acquire(node-9) error = %v, want ErrNoConnection", err)
	}
}

func TestConnectionLost(t *testing.T) {
	network := NewNetwork()
	srv := startEchoServer(t, network, "node-0")

	lost := make(chan uint64, 1)
	cli := network.ClientTransport()
	err := cli.Connect(common.ClientTransportConf{Endpoints: []string{"node-0"}, ReconnectBackoff: time.Millisecond},
		func(transport.IConnection, uint16, uint64, []byte) {},
		func(conn transport.IConnection, err error) {
			select {
			case lost <- conn.ID():
			default:
			}
		})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer cli.Close()

	conn, err := cli.Acquire("node-0")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// stopping the server breaks the connection
	srv.Close()

	select {
	case id := <-lost:
		if id != conn.ID() {
			t.Errorf("lost connection id = %d, want %d", id, conn.ID())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection loss was not reported")
	}

	if conn.Healthy() {
		t.Errorf("Healthy() = true after connection loss")
	}
	if _, err := cli.Acquire("node-0"); !errors.Is(err, transport.ErrNoConnection) {
		t.Errorf("Acquire() after loss error = %v, want ErrNoConnection", err)
	}

	// a new server on the same endpoint is picked up by the reconnect loop
	srv2 := startEchoServer(t, network, "node-0")
	defer srv2.Close()

	deadline := time.Now().Add(3 * time.Second)
	for {
		c, err := cli.Acquire("node-0")
		if err == nil {
			if c.ID() == conn.ID() {
				t.Errorf("reconnected connection reuses id %d", c.ID())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client did not reconnect: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectNoServer(t *testing.T) {
	network := NewNetwork()
	cli := network.ClientTransport()
	err := cli.Connect(common.ClientTransportConf{Endpoints: []string{"nowhere"}},
		func(transport.IConnection, uint16, uint64, []byte) {}, nil)
	if err == nil {
		cli.Close()
		t.Fatal("Connect() expected error without server")
	}
}

func TestCloseWhileAccepting(t *testing.T) {
	for round := 0; round < 20; round++ {
		network := NewNetwork()
		srv := startEchoServer(t, network, "node-0")

		var mu sync.Mutex
		var dialed []net.Conn
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 4; j++ {
					conn, err := network.Dial("node-0")
					if err != nil {
						return
					}
					mu.Lock()
					dialed = append(dialed, conn)
					mu.Unlock()
				}
			}()
		}

		closed := make(chan error, 1)
		go func() { closed <- srv.Close() }()

		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: Close() did not return", round)
		}
		wg.Wait()

		// every accepted connection is closed by the server
		for _, conn := range dialed {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, err := conn.Read(make([]byte, 1)); err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
				t.Errorf("round %d: Read() error = %v, want closed connection", round, err)
			}
			conn.Close()
		}
	}
}
