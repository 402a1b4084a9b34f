package shared

import "net"

func GetServerAddr() *net.UDPAddr {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:4500")
	if err != nil {
		panic(err)
	}
	return addr
}

// GetClientAddr returns the udptunnel client's own local UDP endpoint, port
// 0 so the OS picks an ephemeral one.
func GetClientAddr() *net.UDPAddr {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	return addr
}

// GetServerTCPAddr is the TCP counterpart of GetServerAddr, used by the
// example/client and example/server yamux-over-TCP demo.
func GetServerTCPAddr() string {
	return "127.0.0.1:4501"
}

// GetTunnelAddr is where example/tunnel's two ends rendezvous: the tunnel
// server listens here for the tunnel client's single multiplexed
// connection.
func GetTunnelAddr() string {
	return "127.0.0.1:4502"
}

// GetTunnelLocalAddr is where the tunnel client exposes the forwarded
// service locally.
func GetTunnelLocalAddr() string {
	return "127.0.0.1:4503"
}
