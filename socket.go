package modbus

import (
	"net"
	"time"
)

// socketTransport adapts a stream socket (typically TCP) to the engine's
// non-blocking Transport contract: reads use a very short deadline, and
// deadline expiry is masked into a (0, nil) would-block result.
type socketTransport struct {
	conn net.Conn
}

// NewSocketTransport wraps an already connected stream socket as a
// Transport. The caller retains ownership of the connection: closing it
// makes subsequent Send/Receive calls fail with a transport error.
// The returned transport also implements io.Closer.
func NewSocketTransport(conn net.Conn) (st Transport, err error) {
	if conn == nil {
		err = ErrConfigurationError
		return
	}

	st = &socketTransport{
		conn: conn,
	}

	return
}

// DialSocketTransport connects to a remote modbus endpoint, e.g.
// DialSocketTransport("tcp", "plc1:502", 0), and returns the connection
// wrapped as a Transport.
func DialSocketTransport(network string, addr string, timeout time.Duration) (st Transport, err error) {
	var conn net.Conn

	if timeout == 0 {
		timeout = 5 * time.Second
	}

	conn, err = net.DialTimeout(network, addr, timeout)
	if err != nil {
		return
	}

	st = &socketTransport{
		conn: conn,
	}

	return
}

func (st *socketTransport) Send(txbuf []byte) (sent int, err error) {
	sent, err = st.conn.Write(txbuf)

	return
}

// Receive performs one bounded read attempt and masks deadline expiry
// into "no bytes yet".
func (st *socketTransport) Receive(rxbuf []byte) (received int, err error) {
	err = st.conn.SetReadDeadline(time.Now().Add(1 * time.Millisecond))
	if err != nil {
		return
	}

	received, err = st.conn.Read(rxbuf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			err = nil
		}
	}

	return
}

func (st *socketTransport) Now() (now time.Time) {
	now = time.Now()

	return
}

// Close closes the underlying connection.
func (st *socketTransport) Close() (err error) {
	err = st.conn.Close()

	return
}
