// Package pipe implements an in-process transport on top of net.Pipe. It runs
// the real base client and server transports without sockets, which makes it
// the transport of choice for end to end tests of the client core against the
// simulated cluster.
//
// A Network maps endpoint names to listeners. Client and server transports
// created from the same Network can reach each other:
//
//	network := pipe.NewNetwork()
//	srv := network.ServerTransport(common.ServerTransportConf{})
//	go srv.Listen("node-0")
//	cli := network.ClientTransport()
package pipe
