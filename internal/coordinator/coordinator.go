// Package coordinator implements the deadlock-avoidance protocol over the
// shared allocation graph.
//
// Every participant pre-declares the complete set of files it may ever open;
// acquisition then promotes one claim edge at a time to an assignment edge,
// refusing any promotion that would put a directed cycle into the graph.
// A refused acquirer parks on the region's condition variable and re-races
// after every release. One global lock serialises all graph mutations; the
// condition wait inside Acquire is the only suspension point.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sfs-coordinator/internal/arena"
	"github.com/sfs-coordinator/internal/graph"
	"github.com/sfs-coordinator/internal/ipc"
	"github.com/sfs-coordinator/internal/region"
	apperrors "github.com/sfs-coordinator/pkg/errors"
	"github.com/sfs-coordinator/pkg/utils"
)

// Handle is an opaque grant token. Zero is never a valid handle.
type Handle uint64

// LockFactory builds the Lock guarding a region's graph.
type LockFactory func(key int, r *region.Region) ipc.Lock

// Coordinator is one participant's view of a coordination region. It is the
// SfsContext of the design: all state lives here or in the region, never in
// package globals.
type Coordinator struct {
	provider    region.Provider
	lockFactory LockFactory
	files       FileOpener
	logger      utils.Logger
	pid         uint32
	regionSize  int
	clock       utils.Clock
	tracer      trace.Tracer
	stats       Stats

	mu  sync.Mutex // guards att
	att *attachment
}

// attachment is the participant's live binding to a region.
type attachment struct {
	key   int
	r     *region.Region
	lk    ipc.Lock
	graph *graph.Graph
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithProvider selects the region provider.
func WithProvider(p region.Provider) Option {
	return func(c *Coordinator) { c.provider = p }
}

// WithLockFactory selects how region locks are built.
func WithLockFactory(f LockFactory) Option {
	return func(c *Coordinator) { c.lockFactory = f }
}

// WithFileOpener selects the file I/O collaborator.
func WithFileOpener(f FileOpener) Option {
	return func(c *Coordinator) { c.files = f }
}

// WithLogger selects the logger.
func WithLogger(l utils.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithPid overrides the participant identifier. In-process participants
// (goroutines sharing a memory region) each need a distinct one; real
// processes keep the default of os.Getpid().
func WithPid(pid uint32) Option {
	return func(c *Coordinator) { c.pid = pid }
}

// WithRegionSize overrides the region size used when creating regions.
func WithRegionSize(size int) Option {
	return func(c *Coordinator) { c.regionSize = size }
}

// WithClock overrides the clock used for snapshot timestamps.
func WithClock(clk utils.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// LocalSetup configures a coordinator for in-process participants: a shared
// memory provider with per-key local locks. Each participant still needs its
// own WithPid.
func LocalSetup(p *region.MemoryProvider) []Option {
	return []Option{
		WithProvider(p),
		WithLockFactory(func(key int, _ *region.Region) ipc.Lock {
			return ipc.LocalForKey(key)
		}),
	}
}

// New creates a Coordinator. Defaults: platform region provider and lock
// (shm plus futex on linux), OS file opener, os.Getpid() identity, 32 KiB
// regions, discarded logs.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		provider:    defaultProvider(),
		lockFactory: defaultLockFactory(),
		files:       NewOSFileOpener(),
		logger:      &utils.NullLogger{},
		pid:         uint32(os.Getpid()),
		regionSize:  region.DefaultSize,
		clock:       utils.NewRealClock(),
		tracer:      otel.Tracer("github.com/sfs-coordinator/internal/coordinator"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns a copy of this participant's event counters.
func (c *Coordinator) Stats() StatsSnapshot {
	return c.stats.Snapshot()
}

// Pid returns the participant identifier.
func (c *Coordinator) Pid() uint32 { return c.pid }

// Init creates the region for key (if needed) and resets it to an empty
// graph. Must run exactly once across the cooperating set before any
// Declare; repeated calls simply re-zero the region.
func (c *Coordinator) Init(key int) error {
	r, err := c.provider.Attach(key, c.regionSize)
	if err != nil {
		return err
	}
	if err := r.InitFresh(); err != nil {
		_ = r.Detach()
		return err
	}
	c.logger.Info("initialised region key=%d size=%d", key, r.Size())
	return r.Detach()
}

// Declare attaches the participant to the region for key, installs its
// process node and one claim edge per name. At most once per participant
// per region lifetime, before any Acquire.
//
// On arena exhaustion the partial declaration is not rolled back; the
// participant must treat the failure as fatal and Leave.
func (c *Coordinator) Declare(key int, names []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.att != nil {
		return apperrors.Wrap(apperrors.CodeAlreadyDeclared, "already attached to a region", nil)
	}

	r, err := c.provider.Attach(key, c.regionSize)
	if err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		_ = r.Detach()
		return err
	}

	att := &attachment{
		key:   key,
		r:     r,
		lk:    c.lockFactory(key, r),
		graph: graph.New(r),
	}

	att.lk.Lock()

	g := att.graph
	if !g.FindProcess(c.pid).IsNil() {
		att.lk.Unlock()
		_ = r.Detach()
		return apperrors.Wrap(apperrors.CodeAlreadyDeclared, "process already declared",
			fmt.Errorf("pid %d", c.pid))
	}

	p, err := g.AddProcess(c.pid)
	if err != nil {
		att.lk.Unlock()
		_ = r.Detach()
		return err
	}

	for _, name := range names {
		res, err := g.EnsureResource(name)
		if err == nil {
			err = g.AddEdge(p.Node, res.Node)
		}
		if err != nil {
			// Partial declaration stays in place; the attachment is kept
			// so the caller can Leave.
			c.att = att
			att.lk.Unlock()
			return err
		}
	}

	c.att = att
	c.stats.declares.Add(1)
	att.lk.Unlock()
	c.logger.Info("declared %d files on region key=%d", len(names), key)
	return nil
}

// Acquire blocks until path can be granted exclusively to this participant
// without making a deadlock possible, opens the file, and returns its
// handle.
//
// The grant rule, applied under the global lock: while the resource is
// assigned to anyone the caller waits; once it is free the claim edge is
// tentatively promoted to an assignment edge, and if the combined claim and
// assignment edges then contain any directed cycle the promotion is
// reverted and the caller waits. Every release broadcasts, so all waiters
// re-race; order among them is arbitrary.
//
// An Acquire for a path this participant holds no claim edge to returns a
// zero handle without blocking. Cancelling ctx abandons the wait after
// restoring the claim edge.
func (c *Coordinator) Acquire(ctx context.Context, path, mode string) (Handle, error) {
	ctx, span := c.tracer.Start(ctx, "sfs.acquire",
		trace.WithAttributes(attribute.String("sfs.path", path)))
	defer span.End()

	att, err := c.attached()
	if err != nil {
		return 0, err
	}
	c.stats.acquires.Add(1)

	g := att.graph
	att.lk.Lock()

	p := g.FindProcess(c.pid)
	if p.IsNil() {
		att.lk.Unlock()
		return 0, apperrors.Wrap(apperrors.CodeUnknownProcess, "process not declared", nil)
	}
	res := g.FindResourceByName(path)
	if res.IsNil() {
		att.lk.Unlock()
		return 0, apperrors.Wrap(apperrors.CodeUnknownResource, "file not declared",
			fmt.Errorf("path %q", path))
	}
	if !g.HasEdge(p.Node, res.Node) {
		// No claim edge: either never declared by this participant, or
		// already held by it. Exclusive grants are not re-entrant.
		att.lk.Unlock()
		return 0, apperrors.Wrap(apperrors.CodeNotDeclared, "no claim on file",
			fmt.Errorf("path %q pid %d", path, c.pid))
	}

	blocked := false
	stop := make(chan struct{})
	defer close(stop)

	for {
		if err := ctx.Err(); err != nil {
			att.lk.Unlock()
			return 0, apperrors.Wrap(apperrors.CodeCancelled, "acquire cancelled", err)
		}

		if res.OutEdges() == region.NilOffset {
			// Free. Tentatively promote claim to assignment. The promote
			// and revert allocations always succeed: each add reuses the
			// cell the preceding delete recycled.
			g.DeleteEdge(p.Node, res.Node)
			if err := g.AddEdge(res.Node, p.Node); err != nil {
				_ = g.AddEdge(p.Node, res.Node)
				att.lk.Unlock()
				return 0, err
			}
			if !g.HasCycle() {
				break
			}
			g.DeleteEdge(res.Node, p.Node)
			_ = g.AddEdge(p.Node, res.Node)
		}

		if !blocked {
			blocked = true
			c.stats.blocks.Add(1)
			span.AddEvent("blocked")
			// Wake the wait loop if the caller gives up.
			go func() {
				select {
				case <-ctx.Done():
					att.lk.Broadcast()
				case <-stop:
				}
			}()
		}
		att.lk.Wait()
	}

	token := att.r.NextHandle()
	if err := c.files.Open(path, mode, token); err != nil {
		// Roll the tentative assignment back and let the other waiters
		// re-race; the claim survives for a later retry.
		g.DeleteEdge(res.Node, p.Node)
		_ = g.AddEdge(p.Node, res.Node)
		c.stats.openFailures.Add(1)
		span.RecordError(err)
		att.lk.Broadcast()
		att.lk.Unlock()
		return 0, err
	}

	res.SetHandle(uint64(token))
	c.stats.grants.Add(1)
	att.lk.Unlock()

	c.logger.Debug("acquired %s handle=%d", path, token)
	return Handle(token), nil
}

// Release demotes the assignment for handle back to a claim edge, closes
// the file, and wakes every blocked acquirer.
func (c *Coordinator) Release(h Handle) error {
	att, err := c.attached()
	if err != nil {
		return err
	}

	g := att.graph
	att.lk.Lock()

	res := g.FindResourceByHandle(uint64(h))
	if res.IsNil() {
		att.lk.Unlock()
		return apperrors.Wrap(apperrors.CodeUnknownHandle, "no resource holds this handle",
			fmt.Errorf("handle %d", h))
	}
	p := g.FindProcess(c.pid)
	if p.IsNil() {
		att.lk.Unlock()
		return apperrors.Wrap(apperrors.CodeUnknownProcess, "process not declared", nil)
	}
	if g.FirstEdgeTarget(res.Node) != p.Offset() {
		att.lk.Unlock()
		return apperrors.Wrap(apperrors.CodeUnknownHandle, "handle held by another participant",
			fmt.Errorf("handle %d pid %d", h, c.pid))
	}

	// The original declare included this file, so the participant keeps a
	// future interest: the assignment demotes back to a claim.
	g.DeleteEdge(res.Node, p.Node)
	_ = g.AddEdge(p.Node, res.Node)
	res.SetHandle(0)

	closeErr := c.files.Close(uint64(h))

	c.stats.releases.Add(1)
	att.lk.Broadcast()
	att.lk.Unlock()

	c.logger.Debug("released handle=%d", h)
	return closeErr
}

// Leave withdraws the participant from the region for key: held files are
// closed and demoted, the process node and its claim edges are recycled,
// resources nobody references any more are reclaimed, and the region is
// detached.
func (c *Coordinator) Leave(key int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	att := c.att
	if att == nil || att.key != key {
		return apperrors.Wrap(apperrors.CodeNotDeclared, "not attached to region",
			fmt.Errorf("key %d", key))
	}

	g := att.graph
	att.lk.Lock()

	p := g.FindProcess(c.pid)
	if !p.IsNil() {
		// Close and un-assign everything we hold.
		g.ForEachResource(func(res arena.Resource) {
			if g.FirstEdgeTarget(res.Node) == p.Offset() {
				g.DeleteEdge(res.Node, p.Node)
				if h := res.Handle(); h != 0 {
					_ = c.files.Close(h)
					res.SetHandle(0)
				}
			}
		})

		g.UnlinkProcess(p)

		// Reclaim resources with no assignment out and no claim in.
		g.ForEachResource(func(res arena.Resource) {
			if res.OutEdges() == region.NilOffset && !g.ResourceHasIncomingFromAnyProcess(res) {
				g.UnlinkResource(res)
			}
		})
	}

	c.stats.leaves.Add(1)
	att.lk.Broadcast()
	att.lk.Unlock()

	c.att = nil
	c.logger.Info("left region key=%d", key)
	return att.r.Detach()
}

// Destroy closes any file handles that crashed participants left granted,
// then unlinks the region so its key becomes invalid. To be called exactly
// once by a designated coordinator process after all participants have
// left.
func (c *Coordinator) Destroy(key int) error {
	r, err := c.provider.Attach(key, c.regionSize)
	if err != nil {
		return err
	}

	if r.Validate() == nil {
		lk := c.lockFactory(key, r)
		g := graph.New(r)

		lk.Lock()
		g.ForEachResource(func(res arena.Resource) {
			if h := res.Handle(); h != 0 {
				_ = c.files.Close(h)
				res.SetHandle(0)
			}
		})
		lk.Broadcast()
		lk.Unlock()
	}

	if err := r.Detach(); err != nil {
		return err
	}
	if err := c.provider.Unlink(key); err != nil {
		return err
	}
	ipc.DropLocal(key)
	c.logger.Info("destroyed region key=%d", key)
	return nil
}

// Snapshot copies the region's graph under the lock. Works attached or not;
// an unattached call maps the region temporarily.
func (c *Coordinator) Snapshot(key int) (*graph.Snapshot, error) {
	c.mu.Lock()
	att := c.att
	c.mu.Unlock()

	if att != nil && att.key == key {
		att.lk.Lock()
		snap := att.graph.TakeSnapshot(c.clock.Now)
		att.lk.Unlock()
		return snap, nil
	}

	r, err := c.provider.Attach(key, c.regionSize)
	if err != nil {
		return nil, err
	}
	defer r.Detach()
	if err := r.Validate(); err != nil {
		return nil, err
	}

	lk := c.lockFactory(key, r)
	g := graph.New(r)

	lk.Lock()
	snap := g.TakeSnapshot(c.clock.Now)
	lk.Unlock()
	return snap, nil
}

// attached returns the current attachment.
func (c *Coordinator) attached() (*attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.att == nil {
		return nil, apperrors.Wrap(apperrors.CodeNotDeclared, "not attached to any region", nil)
	}
	return c.att, nil
}
