package registry

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/DamOTclese/chatbetween/internal"
	"github.com/DamOTclese/chatbetween/pkg/chatwire"
	"github.com/DamOTclese/chatbetween/pkg/metrics"
	"github.com/google/uuid"
)

const (
	// DefaultTimeout reclaims a transfer with no inbound activity.
	DefaultTimeout = 10 * time.Second
	// DefaultWriteRetryLimit bounds consecutive zero-progress file writes.
	DefaultWriteRetryLimit = 20
	// DefaultWriteRetryDelay is slept between write retries to let a slow
	// or full filesystem recover.
	DefaultWriteRetryDelay = time.Second
	// DefaultNameProbeLimit bounds the collision-avoidance name search.
	DefaultNameProbeLimit = 20
)

type Options struct {
	// Dir is where inbound files are created. Empty means the current
	// working directory.
	Dir             string
	Timeout         time.Duration
	WriteRetryLimit int
	WriteRetryDelay time.Duration
	NameProbeLimit  int

	// Now is the clock used for activity stamps and the timeout sweep.
	// Tests inject their own.
	Now func() time.Time

	Metrics *metrics.ChatCollector
}

// ControlBlock is the per-peer bookkeeping for one in-progress inbound
// transfer. The output handle is owned exclusively by the block and is
// released on completion, supersession, or timeout.
type ControlBlock struct {
	ID           uuid.UUID
	Peer         string
	Destination  string
	Remaining    uint32
	LastActivity time.Time

	out *os.File
}

// Registry holds at most one active inbound transfer per peer, keyed by
// the peer's address string. All mutation happens on the caller's single
// cooperative loop, so no locking is needed here.
type Registry struct {
	opts   Options
	blocks map[string]*ControlBlock
}

func New(opts Options) *Registry {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.WriteRetryLimit <= 0 {
		opts.WriteRetryLimit = DefaultWriteRetryLimit
	}
	if opts.WriteRetryDelay <= 0 {
		opts.WriteRetryDelay = DefaultWriteRetryDelay
	}
	if opts.NameProbeLimit <= 0 {
		opts.NameProbeLimit = DefaultNameProbeLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:   opts,
		blocks: make(map[string]*ControlBlock),
	}
}

// StartReceive installs a control block for a SEND-kind header from peer
// and feeds any trailing bytes of the header datagram through AppendBlock
// as the transfer's first data block.
//
// A zero-size header means there is nothing to receive and is ignored. A
// header from a peer that already has a block forcibly aborts the old
// block first; only one transfer per peer is allowed. When no collision
// free destination name can be found the transfer is dropped without
// creating a file, which is deliberate policy rather than a failure.
func (r *Registry) StartReceive(hdr chatwire.TransferHeader, peer string, initial []byte) {
	if hdr.Size == 0 {
		return
	}

	if old, ok := r.blocks[peer]; ok {
		r.closeBlock(old)
		delete(r.blocks, peer)
		internal.Warn("aborted previous file transfer", internal.Fields{
			internal.FieldPeer: peer,
			internal.FieldFile: old.Destination,
			internal.FieldXfer: old.ID,
		})
		if r.opts.Metrics != nil {
			r.opts.Metrics.ObserveTransferAborted()
		}
	}

	// The wire name is flattened to its base component so a malicious
	// header cannot place the file outside the download directory.
	dest, ok := r.probeDestination(filepath.Base(hdr.Name))
	if !ok {
		internal.Debug("no collision free name for inbound file, transfer dropped", internal.Fields{
			internal.FieldPeer: peer,
			internal.FieldFile: hdr.Name,
		})
		if r.opts.Metrics != nil {
			r.opts.Metrics.ObserveTransferDropped()
		}
		return
	}

	out, err := os.Create(filepath.Join(r.opts.Dir, dest))
	if err != nil {
		internal.Warn("unable to create inbound file", internal.Fields{
			internal.FieldPeer:  peer,
			internal.FieldFile:  dest,
			internal.FieldError: err.Error(),
		})
		return
	}

	blk := &ControlBlock{
		ID:           uuid.New(),
		Peer:         peer,
		Destination:  dest,
		Remaining:    hdr.Size,
		LastActivity: r.opts.Now(),
		out:          out,
	}
	r.blocks[peer] = blk

	internal.Info("inbound file transfer started", internal.Fields{
		internal.FieldPeer:  peer,
		internal.FieldFile:  dest,
		internal.FieldBytes: hdr.Size,
		internal.FieldXfer:  blk.ID,
	})
	if r.opts.Metrics != nil {
		r.opts.Metrics.ObserveTransferStarted()
	}

	if len(initial) > 0 {
		r.AppendBlock(peer, initial)
	}
}

// AppendBlock writes a continuation data block into peer's open transfer.
// It reports false when peer has no active block, in which case the caller
// treats the bytes as something else entirely (chat text).
//
// Writes that make no progress are retried on a fixed delay up to the
// bounded retry budget; an exhausted budget silently loses whatever could
// not be written, and the byte accounting proceeds on the requested size
// regardless of how much actually landed on disk.
func (r *Registry) AppendBlock(peer string, data []byte) bool {
	blk, ok := r.blocks[peer]
	if !ok {
		return false
	}

	pending := data
	retries := 0
	for len(pending) > 0 && retries < r.opts.WriteRetryLimit {
		n, _ := blk.out.Write(pending)
		if n > 0 {
			pending = pending[n:]
			retries = 0
			continue
		}
		time.Sleep(r.opts.WriteRetryDelay)
		retries++
	}
	if len(pending) > 0 {
		internal.Warn("file write retries exhausted, inbound data lost", internal.Fields{
			internal.FieldPeer:    peer,
			internal.FieldFile:    blk.Destination,
			internal.FieldBytes:   len(pending),
			internal.FieldRetries: r.opts.WriteRetryLimit,
		})
		if r.opts.Metrics != nil {
			r.opts.Metrics.ObserveTruncatedWrite()
		}
	}

	blk.LastActivity = r.opts.Now()

	// Accounting runs on the requested block size, not the confirmed
	// write count. A block larger than the declared remainder clamps to
	// zero and completes the transfer.
	requested := uint32(len(data))
	if blk.Remaining <= requested {
		blk.Remaining = 0
	} else {
		blk.Remaining -= requested
	}

	if blk.Remaining == 0 {
		r.closeBlock(blk)
		delete(r.blocks, peer)
		internal.Info("inbound file transfer complete", internal.Fields{
			internal.FieldPeer: peer,
			internal.FieldFile: blk.Destination,
			internal.FieldXfer: blk.ID,
		})
		if r.opts.Metrics != nil {
			r.opts.Metrics.ObserveTransferCompleted()
		}
	}
	return true
}

// SweepTimeouts reclaims every block whose last activity is at least the
// timeout threshold in the past and reports how many were removed. Safe on
// an empty registry and at any cadence; the console loop calls it once per
// iteration.
func (r *Registry) SweepTimeouts() int {
	now := r.opts.Now()
	count := 0
	for peer, blk := range r.blocks {
		if blk.LastActivity.Add(r.opts.Timeout).After(now) {
			continue
		}
		r.closeBlock(blk)
		delete(r.blocks, peer)
		count++
		internal.Warn("inbound file transfer timed out", internal.Fields{
			internal.FieldPeer:  peer,
			internal.FieldFile:  blk.Destination,
			internal.FieldBytes: blk.Remaining,
			internal.FieldXfer:  blk.ID,
		})
		if r.opts.Metrics != nil {
			r.opts.Metrics.ObserveTransferTimedOut()
		}
	}
	return count
}

// Find looks up the active block for peer by exact address match.
func (r *Registry) Find(peer string) (*ControlBlock, bool) {
	blk, ok := r.blocks[peer]
	return blk, ok
}

// Len reports how many transfers are currently active.
func (r *Registry) Len() int {
	return len(r.blocks)
}

// Close releases every open handle and empties the registry. Called once
// at shutdown.
func (r *Registry) Close() {
	for peer, blk := range r.blocks {
		r.closeBlock(blk)
		delete(r.blocks, peer)
	}
}

// probeDestination tries the wire name, then numbered variants, and
// reports the first candidate no existing readable file answers to.
func (r *Registry) probeDestination(name string) (string, bool) {
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "", false
	}
	for try := 0; try < r.opts.NameProbeLimit; try++ {
		candidate := name
		if try > 0 {
			candidate = name + strconv.Itoa(try)
		}
		f, err := os.Open(filepath.Join(r.opts.Dir, candidate))
		if err != nil {
			return candidate, true
		}
		_ = f.Close()
	}
	return "", false
}

func (r *Registry) closeBlock(blk *ControlBlock) {
	if blk.out != nil {
		_ = blk.out.Close()
		blk.out = nil
	}
}
