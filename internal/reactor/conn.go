package reactor

import (
	"net"
	"syscall"

	"github.com/cppservergit/apiserver-odbc/internal/httpx"
)

// connState is where a connection's Request currently lives, matching the
// Request state machine in spec.md §3.
type connState int

const (
	stateReading connState = iota
	stateQueuedForWork
	stateExecuting
	stateQueuedForWrite
	stateWriting
)

// conn is one in-flight connection, owned exclusively by the reactor
// goroutine except while a worker has it checked out (from the handoff in
// dispatch, which sets state = stateQueuedForWork, until it comes back on
// the ready channel), during which the reactor has deregistered its fd.
type conn struct {
	fd       int
	remoteIP string
	buf      *httpx.Buffer
	req      *httpx.Request
	resp     *httpx.Response
	state    connState
	sa       syscall.Sockaddr
}

func newConn(fd int, remoteIP string) *conn {
	return &conn{fd: fd, remoteIP: remoteIP, buf: httpx.NewBuffer(), state: stateReading}
}

// connStore is the connection buffer store: keyed by fd, mutated only by
// the reactor goroutine, so it needs no lock (spec.md §5 "Shared state").
type connStore struct {
	byFD map[int]*conn
}

func newConnStore() *connStore {
	return &connStore{byFD: make(map[int]*conn)}
}

func (s *connStore) put(c *conn)       { s.byFD[c.fd] = c }
func (s *connStore) get(fd int) *conn  { return s.byFD[fd] }
func (s *connStore) remove(fd int)     { delete(s.byFD, fd) }
func (s *connStore) all() []*conn {
	out := make([]*conn, 0, len(s.byFD))
	for _, c := range s.byFD {
		out = append(out, c)
	}
	return out
}

func remoteIPOf(sa syscall.Sockaddr) string {
	if v4, ok := sa.(*syscall.SockaddrInet4); ok {
		return net.IP(v4.Addr[:]).String()
	}
	if v6, ok := sa.(*syscall.SockaddrInet6); ok {
		return net.IP(v6.Addr[:]).String()
	}
	return ""
}
