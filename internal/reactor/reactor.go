// Package reactor implements the single-threaded, edge-triggered I/O event
// loop described in spec.md §4.1: it owns the listening socket, the signal
// source, and every connection handle, and never executes handler code
// inline — completed requests are handed off to a worker pool and their
// responses re-enter the loop via a ready channel.
//
// Grounded on the teacher's server/engine/epoll.go accept/epoll loop,
// generalized from a raw fd-dispatch job queue into the full dispatch
// policy spec.md names (CORS, origin allow-list, bypass-pool fast paths,
// catalog lookup, deregister-before-handoff).
package reactor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/cppservergit/apiserver-odbc/internal/audit"
	"github.com/cppservergit/apiserver-odbc/internal/httpx"
	"github.com/cppservergit/apiserver-odbc/internal/logx"
	"github.com/cppservergit/apiserver-odbc/internal/metrics"
	"github.com/cppservergit/apiserver-odbc/internal/webapi"
)

// epollET reinterprets syscall.EPOLLET's bit pattern as uint32: on linux/amd64
// the constant is a negative int32, which Go's constant-conversion rules
// refuse to convert directly to an unsigned type. Routing it through a
// non-constant int32 variable first sidesteps the compile-time range check.
var epollETSigned int32 = syscall.EPOLLET
var epollET uint32 = uint32(epollETSigned)

const (
	maxEvents  = 128
	pollTimeMS = 5 // spec.md §4.1: "short timeout (~5ms)"
)

// Config bundles everything the reactor needs to build dispatch decisions
// without owning policy logic itself.
type Config struct {
	Port         int
	AllowOrigins map[string]bool
	AcceptBurst  int // 0 disables throttling

	Catalog  *webapi.Catalog
	Counters *metrics.Counters
	Log      *logx.Logger
	Audit    *audit.Drain

	// Dispatch is invoked by a worker for any request that isn't one of
	// the pool-bypassing built-ins; it runs the full request lifecycle
	// and returns the response to write.
	Dispatch func(ctx context.Context, req *httpx.Request, d *webapi.Descriptor) *httpx.Response

	// InlinePing and InlineSysinfo fill a response for /api/ping and
	// /api/sysinfo without touching the worker pool (spec.md §4.1 step 3).
	InlinePing     func() *httpx.Response
	InlineSysinfo  func() *httpx.Response

	PoolSize int
}

// Reactor is the event loop described above.
type Reactor struct {
	cfg      Config
	listenFD int
	epollFD  int
	sigR     int // self-pipe read end, registered with epoll
	sigW     int // self-pipe write end, written to by the signal goroutine

	store *connStore
	work  chan workItem
	ready chan *conn

	limiter *rate.Limiter

	workerWG sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

type workItem struct {
	c *conn
	d *webapi.Descriptor
}

// New builds a Reactor ready to Start.
func New(cfg Config) *Reactor {
	r := &Reactor{
		cfg:   cfg,
		store: newConnStore(),
		work:  make(chan workItem, 4096),
		ready: make(chan *conn, 4096),
		done:  make(chan struct{}),
	}
	if cfg.AcceptBurst > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptBurst), cfg.AcceptBurst)
	}
	return r
}

// Start binds, listens, and runs the loop until a termination signal
// arrives or ctx is cancelled. It returns once shutdown has fully
// completed (workers and audit drain joined).
func (r *Reactor) Start(ctx context.Context) error {
	fd, err := listenSocket(r.cfg.Port)
	if err != nil {
		return fmt.Errorf("reactor: bind: %w", err)
	}
	r.listenFD = fd
	defer syscall.Close(r.listenFD)

	epollFD, err := syscall.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	r.epollFD = epollFD
	defer syscall.Close(r.epollFD)

	if err := r.registerListen(); err != nil {
		return err
	}
	if err := r.setupSignalPipe(); err != nil {
		return err
	}

	r.startWorkers()
	r.cfg.Log.Info("reactor", fmt.Sprintf("listening on port %d", r.cfg.Port))

	r.loop(ctx)

	r.shutdown()
	return nil
}

func (r *Reactor) registerListen() error {
	return syscall.EpollCtl(r.epollFD, syscall.EPOLL_CTL_ADD, r.listenFD, &syscall.EpollEvent{
		Events: syscall.EPOLLIN,
		Fd:     int32(r.listenFD),
	})
}

// setupSignalPipe wires SIGINT/SIGTERM/SIGQUIT into the epoll loop via the
// classic self-pipe trick: a goroutine blocks on signal.Notify and writes
// one byte to a pipe whose read end is registered with epoll, converting
// an async signal into a normal readiness event (spec.md's "signal
// interceptor... integrated with the reactor").
func (r *Reactor) setupSignalPipe() error {
	fds := make([]int, 2)
	if err := syscall.Pipe(fds); err != nil {
		return fmt.Errorf("reactor: signal pipe: %w", err)
	}
	r.sigR, r.sigW = fds[0], fds[1]
	syscall.SetNonblock(r.sigR, true)

	if err := syscall.EpollCtl(r.epollFD, syscall.EPOLL_CTL_ADD, r.sigR, &syscall.EpollEvent{
		Events: syscall.EPOLLIN,
		Fd:     int32(r.sigR),
	}); err != nil {
		return fmt.Errorf("reactor: registering signal pipe: %w", err)
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, signalsToIntercept()...)
	go func() {
		s := <-sigCh
		r.cfg.Log.Info("reactor", "received signal "+s.String())
		syscall.Write(r.sigW, []byte{1})
	}()
	return nil
}

func (r *Reactor) startWorkers() {
	for i := 0; i < r.cfg.PoolSize; i++ {
		r.workerWG.Add(1)
		go r.runWorker(i)
	}
}

func (r *Reactor) runWorker(id int) {
	defer r.workerWG.Done()
	for item := range r.work {
		r.cfg.Counters.ActiveThreads.Add(1)
		start := time.Now()

		resp := r.cfg.Dispatch(context.Background(), item.c.req, item.d)
		item.c.resp = resp

		r.cfg.Counters.RecordRequest(time.Since(start))
		r.cfg.Counters.ActiveThreads.Add(-1)

		select {
		case r.ready <- item.c:
		case <-r.done:
			return
		}
	}
}

func (r *Reactor) loop(ctx context.Context) {
	events := make([]syscall.EpollEvent, maxEvents)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.drainReady()

		n, err := syscall.EpollWait(r.epollFD, events, pollTimeMS)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			continue
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			switch {
			case fd == r.sigR:
				return // shutdown requested
			case fd == r.listenFD:
				r.acceptLoop()
			default:
				r.handleConnEvent(fd, ev.Events)
			}
		}
	}
}

// drainReady re-arms every completed request for writing, and performs the
// write inline here since writes are expected to be quick (response fits
// in one or a few syscalls); spec.md requires draining the ready channel
// before processing fired events on every loop iteration.
func (r *Reactor) drainReady() {
	for {
		select {
		case c := <-r.ready:
			r.writeResponse(c)
		default:
			return
		}
	}
}

func (r *Reactor) acceptLoop() {
	for {
		if r.limiter != nil && !r.limiter.Allow() {
			break
		}
		nfd, sa, err := syscall.Accept(r.listenFD)
		if err != nil {
			// EAGAIN or transient; accept errors besides EAGAIN are logged and ignored
			if err != syscall.EAGAIN {
				r.cfg.Log.Warn("reactor", "accept: "+err.Error())
			}
			break
		}
		syscall.SetNonblock(nfd, true)

		c := newConn(nfd, remoteIPOf(sa))
		r.store.put(c)
		r.cfg.Counters.Connections.Add(1)

		if err := syscall.EpollCtl(r.epollFD, syscall.EPOLL_CTL_ADD, nfd, &syscall.EpollEvent{
			Events: uint32(syscall.EPOLLIN) | epollET | uint32(syscall.EPOLLONESHOT) | uint32(syscall.EPOLLRDHUP),
			Fd:     int32(nfd),
		}); err != nil {
			r.closeConn(c)
		}
	}
}

func (r *Reactor) handleConnEvent(fd int, events uint32) {
	c := r.store.get(fd)
	if c == nil {
		return
	}
	if events&(syscall.EPOLLHUP|syscall.EPOLLRDHUP) != 0 {
		r.closeConn(c)
		return
	}
	if events&syscall.EPOLLERR != 0 {
		r.cfg.Log.Warn("reactor", fmt.Sprintf("epoll error on fd %d", fd))
		r.closeConn(c)
		return
	}
	if events&syscall.EPOLLOUT != 0 && c.resp != nil {
		r.writeResponse(c)
		return
	}
	if events&syscall.EPOLLIN != 0 {
		r.readConn(c)
	}
}

func (r *Reactor) readConn(c *conn) {
	tmp := make([]byte, 4096)
	for {
		n, err := syscall.Read(c.fd, tmp)
		if n > 0 {
			c.buf.Append(tmp[:n])
		}
		if err != nil || n == 0 {
			break
		}
		if n < len(tmp) {
			break
		}
	}

	req, complete, _, perr := httpx.TryParse(c.buf.Bytes(), c.remoteIP)
	if perr != nil {
		r.writeAndClose(c, httpx.ErrorResponse(perr.Code))
		return
	}
	if !complete {
		r.rearm(c, syscall.EPOLLIN)
		return
	}

	c.req = req
	r.dispatch(c)
}

// dispatch implements spec.md §4.1's numbered dispatch policy. The OPTIONS
// CORS response is a request-lifecycle step (spec.md §4.4 step 1), not a
// reactor-dispatch one: an OPTIONS request still has to clear the origin
// allow-list and the catalog lookup below before it reaches that lifecycle
// in the worker, same as every other method.
func (r *Reactor) dispatch(c *conn) {
	req := c.req

	if req.Origin != "" && !r.cfg.AllowOrigins[req.Origin] {
		r.cfg.Log.WarnR("reactor", "disallowed origin "+req.Origin, req.XRequestID)
		r.writeAndClose(c, httpx.ErrorResponse(403))
		return
	}

	if req.Method != httpx.MethodOptions {
		switch req.Path {
		case "/api/ping":
			r.writeAndClose(c, r.cfg.InlinePing())
			return
		case "/api/sysinfo":
			r.writeAndClose(c, r.cfg.InlineSysinfo())
			return
		}
	}

	desc, ok := r.cfg.Catalog.Lookup(req.Path)
	if !ok {
		r.writeAndClose(c, httpx.ErrorResponse(404))
		return
	}

	// Deregister before handoff: prevents duplicate wakeups while the
	// worker owns the fd (spec.md §4.1, §8 invariant).
	syscall.EpollCtl(r.epollFD, syscall.EPOLL_CTL_DEL, c.fd, nil)
	r.store.remove(c.fd)
	c.state = stateQueuedForWork

	select {
	case r.work <- workItem{c: c, d: desc}:
	default:
		r.store.put(c)
		r.writeAndClose(c, httpx.ErrorResponse(503))
	}
}

func (r *Reactor) writeAndClose(c *conn, resp *httpx.Response) {
	c.resp = resp
	r.writeResponse(c)
}

func (r *Reactor) writeResponse(c *conn) {
	done, err := c.resp.Write(func(p []byte) (int, error) {
		return syscall.Write(c.fd, p)
	})
	if err != nil {
		r.closeConn(c)
		return
	}
	if done {
		r.closeConn(c)
		return
	}
	r.rearm(c, syscall.EPOLLOUT)
}

func (r *Reactor) rearm(c *conn, events uint32) {
	_, alreadyRegistered := r.store.byFD[c.fd]
	r.store.put(c)

	op := syscall.EPOLL_CTL_MOD
	if !alreadyRegistered {
		// The fd was deregistered before a worker handoff (spec.md §4.1);
		// re-register it from scratch rather than modify.
		op = syscall.EPOLL_CTL_ADD
	}
	syscall.EpollCtl(r.epollFD, op, c.fd, &syscall.EpollEvent{
		Events: events | epollET | uint32(syscall.EPOLLONESHOT) | uint32(syscall.EPOLLRDHUP),
		Fd:     int32(c.fd),
	})
}

func (r *Reactor) closeConn(c *conn) {
	syscall.EpollCtl(r.epollFD, syscall.EPOLL_CTL_DEL, c.fd, nil)
	syscall.Close(c.fd)
	r.store.remove(c.fd)
	if c.req != nil {
		c.req.CleanupBlobs()
	}
	r.cfg.Counters.Connections.Add(-1)
}

// shutdown implements spec.md's join order: workers first, then audit
// drain, then close remaining connection handles.
func (r *Reactor) shutdown() {
	r.stopOnce.Do(func() { close(r.done) })
	close(r.work)
	r.workerWG.Wait()

	if r.cfg.Audit != nil {
		r.cfg.Audit.Stop()
	}

	for _, c := range r.store.all() {
		syscall.Close(c.fd)
	}
	syscall.Close(r.sigR)
	syscall.Close(r.sigW)
}

func listenSocket(port int) (int, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM|syscall.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	if err := syscall.Bind(fd, &syscall.SockaddrInet4{Port: port}); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	if err := syscall.Listen(fd, syscall.SOMAXCONN); err != nil {
		syscall.Close(fd)
		return -1, err
	}
	return fd, nil
}
