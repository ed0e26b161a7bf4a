// Package audit implements the server's asynchronous audit trail: a single
// drain goroutine consuming records off a channel and writing them with
// ExecSQLParams, never blocking producers beyond the channel send and never
// retrying a failed write.
package audit

import (
	"context"
	"sync"

	"github.com/cppservergit/apiserver-odbc/internal/logx"
)

// Record is one audit entry, matching spec's AuditRecord tuple.
type Record struct {
	Username  string
	RemoteIP  string
	Path      string
	Payload   string
	SessionID string
	UserAgent string
	NodeName  string
	RequestID string
}

const insertSQL = `call api.sp_audit_insert($username, $remote_ip, $path, $payload, $session_id, $user_agent, $node_name, $request_id)`

// Writer performs the one database call the drain issues per record.
// *sqlstore.Store satisfies this with its ExecSQLParams method.
type Writer interface {
	ExecSQLParams(ctx context.Context, name, query string, args ...any) error
}

// Drain owns the audit channel and its single consuming goroutine.
type Drain struct {
	ch     chan Record
	log    *logx.Logger
	writer Writer
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewDrain builds a Drain with the given channel capacity (a large bounded
// buffer; spec calls for an unbounded channel in principle, a large bound
// is the accepted practical substitute).
func NewDrain(writer Writer, log *logx.Logger, capacity int) *Drain {
	return &Drain{
		ch:     make(chan Record, capacity),
		log:    log.With("audit"),
		writer: writer,
		done:   make(chan struct{}),
	}
}

// Push enqueues a record for the drain to persist. It blocks the caller no
// longer than the channel send: on a full channel the caller waits until
// the drain frees a slot or Stop is called. A record pushed after Stop may
// be discarded.
func (d *Drain) Push(r Record) {
	select {
	case d.ch <- r:
	case <-d.done:
	}
}

// Run starts the drain goroutine. It exits once Stop is called and the
// channel is empty.
func (d *Drain) Run(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case rec := <-d.ch:
				d.write(ctx, rec)
			case <-d.done:
				d.drainRemaining(ctx)
				return
			}
		}
	}()
}

func (d *Drain) drainRemaining(ctx context.Context) {
	for {
		select {
		case rec := <-d.ch:
			d.write(ctx, rec)
		default:
			return
		}
	}
}

func (d *Drain) write(ctx context.Context, rec Record) {
	err := d.writer.ExecSQLParams(ctx, "AUDITDB", insertSQL,
		rec.Username, rec.RemoteIP, rec.Path, rec.Payload,
		rec.SessionID, rec.UserAgent, rec.NodeName, rec.RequestID)
	if err != nil {
		d.log.ErrorR("audit", "audit insert failed: "+err.Error(), rec.RequestID)
	}
}

// Stop signals the drain to finish any in-flight item, flush what remains
// in the channel, and exit, then waits for it to do so. Per the shutdown
// ordering in spec.md §4.3, Stop must be called after the worker pool has
// fully drained (workers first, then audit drain).
func (d *Drain) Stop() {
	close(d.done)
	d.wg.Wait()
}
