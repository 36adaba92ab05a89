package lights

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// discoverWindow is how long Discover collects replies after
// broadcasting, per spec §4.4 ("≈ 3 s").
const discoverWindow = 3 * time.Second

// Discover broadcasts a getSystemConfig datagram to broadcastAddr (e.g.
// "192.168.1.255:38899") and collects fixture addresses that reply
// within discoverWindow. It is a pure query: it never touches the
// engine's own groups or running program.
func Discover(broadcastAddr string) ([]string, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := setBroadcast(conn); err != nil {
		// Best effort: some platforms/sandboxes refuse SO_BROADCAST; the
		// send may still reach directed/multicast-capable targets.
	}

	addr, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		return nil, err
	}

	payload := []byte(`{"method":"getSystemConfig"}`)
	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var found []string
	deadline := time.Now().Add(discoverWindow)
	buf := make([]byte, 2048)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		conn.SetReadDeadline(time.Now().Add(remaining))
		_, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			break // deadline exceeded or socket closed
		}
		ip := from.IP.String()
		if !seen[ip] {
			seen[ip] = true
			found = append(found, ip)
		}
	}
	return found, nil
}

func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
