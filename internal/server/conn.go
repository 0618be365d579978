package server

import (
	"net"
	"sync"
	"time"
)

// clientConn is one accepted client connection. Dispatcher workers write
// replies concurrently, so writes are serialized per connection.
type clientConn struct {
	net.Conn

	id           string
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newClientConn(c net.Conn, id string, writeTimeout time.Duration) *clientConn {
	return &clientConn{Conn: c, id: id, writeTimeout: writeTimeout}
}

// Write writes p in full under the connection's write lock.
func (c *clientConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}

// Close closes the connection once; later calls return nil.
func (c *clientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.Conn.Close()
	})
	return err
}

// ID returns the client id assigned at accept time.
func (c *clientConn) ID() string {
	return c.id
}
