// Copyright 2024 The Swarm Authors
// This file is part of the Swarm library.
//
// The Swarm library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Swarm library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Swarm library. If not, see <http://www.gnu.org/licenses/>.

// Package clausecomm implements the anytime, tree-bounded gather/scatter of
// learned clauses (spec.md §4.7): leaves collect from their solver adapter
// and send up; inner nodes merge their children's buffers with their own
// and forward up; the root distributes the merged set back down. Buffer
// sizes are bounded by a growth rule and every distributed buffer carries a
// checksum a receiver can verify.
package clausecomm

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/opentracing/opentracing-go"

	"github.com/ethersphere/swarmsat/wire"
)

var (
	epochsStarted  = metrics.NewRegisteredCounter("clausecomm/epochs_started", nil)
	epochsAborted  = metrics.NewRegisteredCounter("clausecomm/epochs_aborted", nil)
	gatherTimer    = metrics.NewRegisteredResettingTimer("clausecomm/gather", nil)
	distributeSize = metrics.NewRegisteredGauge("clausecomm/distribute_size", nil)
)

// Config bundles the parameters the growth rule and bucket canonicalization
// need; these are cluster-wide constants an embedder fixes once.
type Config struct {
	// MaxLbdPartitionedSize, MaxSize and MaxLBD fix the canonical bucket
	// traversal order shared with the wire package (spec.md §6's
	// next(maxLbdPartitionedSize) state machine).
	MaxLbdPartitionedSize int32
	MaxSize               int32
	MaxLBD                int32

	// Alpha and InitialBudget parameterize the growth rule from spec.md
	// §4.7: outSize = min(MAX, alpha * sum(inSizes)).
	Alpha         float64
	InitialBudget int32
	MaxBudget     int32

	// Period is the clause-sharing epoch period; leaves guard their first
	// emission to half a period after activation and space emissions at
	// least one period apart.
	Period time.Duration

	// WithChecksum enables the rolling-hash header on every buffer this
	// communicator produces.
	WithChecksum bool
}

// DefaultConfig returns reasonable bucket-shape constants in the range
// typical CDCL portfolio solvers use for clause export (small clauses get
// LBD-partitioned buckets, larger ones share a single bucket with an
// explicit per-clause LBD field).
func DefaultConfig(period time.Duration) Config {
	return Config{
		MaxLbdPartitionedSize: 3,
		MaxSize:               40,
		MaxLBD:                8,
		Alpha:                 3,
		InitialBudget:         1500,
		MaxBudget:             60000,
		Period:                period,
		WithChecksum:          true,
	}
}

// phase is the per-job, per-worker clause-sharing epoch state.
type phase int

const (
	idle phase = iota
	gathering
	distributed
)

// ChildSet names the live child ranks a worker currently has for a job,
// from jobtree: a child slot with ok==false is not live and is excluded
// from the wait set and the distribute fan-out.
type ChildSet struct {
	LeftRank, RightRank         int
	HasLeft, HasRight           bool
}

// Live returns the ranks of currently live children.
func (c ChildSet) Live() []int {
	var out []int
	if c.HasLeft {
		out = append(out, c.LeftRank)
	}
	if c.HasRight {
		out = append(out, c.RightRank)
	}
	return out
}

// Communicator runs one job's clause-sharing epochs on one worker. It is
// not safe for concurrent use; the owning worker main loop is the single
// caller, matching the cooperative single-threaded scheduling model of
// spec.md §5.
type Communicator struct {
	cfg    Config
	jobID  int32
	isRoot bool
	isLeaf bool

	logger log.Logger

	epoch int32
	ph    phase

	localBuf      *wire.ClauseBuffer
	haveLocal     bool
	childBufs     map[int]*wire.ClauseBuffer
	childrenWant  ChildSet

	activation   time.Time
	lastEmission time.Time

	span opentracing.Span
}

// New returns a Communicator for one job on this worker. isRoot/isLeaf
// reflect the worker's current tree position and must be refreshed by the
// caller (via Reposition) whenever the job's tree shape changes.
func New(cfg Config, jobID int32, isRoot, isLeaf bool) *Communicator {
	return &Communicator{
		cfg:    cfg,
		jobID:  jobID,
		isRoot: isRoot,
		isLeaf: isLeaf,
		logger: log.New("clausecomm", "job", jobID),
		ph:     idle,
	}
}

// Reposition updates the worker's root/leaf status for the job, e.g. after
// a tree-shape change from the Local Scheduler or Balancer.
func (c *Communicator) Reposition(isRoot, isLeaf bool) {
	c.isRoot = isRoot
	c.isLeaf = isLeaf
}

// OnActivate records the job's activation time, used by the leaf timing
// guard in WantsToCommunicate.
func (c *Communicator) OnActivate(now time.Time) {
	c.activation = now
}

// WantsToCommunicate reports whether this worker should drive a
// clause-sharing action this tick, per spec.md §4.7: the job must be
// ACTIVE and either an aggregation is already in progress or the solver
// signals export readiness. Leaves additionally guard against emitting
// before half a period has elapsed since activation or within one period
// of the last emission.
func (c *Communicator) WantsToCommunicate(now time.Time, solverReady bool) bool {
	if c.ph != idle {
		return true
	}
	if !solverReady {
		return false
	}
	if c.isLeaf {
		if c.activation.IsZero() || now.Before(c.activation.Add(c.cfg.Period/2)) {
			return false
		}
		if !c.lastEmission.IsZero() && now.Before(c.lastEmission.Add(c.cfg.Period)) {
			return false
		}
	}
	return true
}

// BeginEpoch starts a new gather epoch ε, returning it and the export
// budget the caller should request from its solver adapter. It is an error
// to call this while a previous epoch is still in flight (at most one
// gather epoch in flight per job per worker, spec.md §5).
func (c *Communicator) BeginEpoch(now time.Time) (epoch int32, budget int32) {
	c.epoch++
	c.ph = gathering
	c.childBufs = make(map[int]*wire.ClauseBuffer)
	c.haveLocal = false
	c.lastEmission = now
	epochsStarted.Inc(1)
	c.logger.Debug("clause epoch started", "epoch", c.epoch)
	return c.epoch, c.cfg.InitialBudget
}

// InFlight reports whether a gather or distribute epoch is currently open.
func (c *Communicator) InFlight() bool { return c.ph != idle }

// Epoch returns the current (or most recently completed) epoch number.
func (c *Communicator) Epoch() int32 { return c.epoch }

// SetLocalBuffer records this worker's own solver-collected buffer for the
// current epoch, once its adapter's CollectClauses/GetCollectedClauses
// handshake completes.
func (c *Communicator) SetLocalBuffer(buf *wire.ClauseBuffer) {
	c.localBuf = buf
	c.haveLocal = true
}

// SetLiveChildren records which child ranks are expected to report for the
// current epoch (a leaf has none and is ready as soon as its own local
// buffer arrives).
func (c *Communicator) SetLiveChildren(children ChildSet) {
	c.childrenWant = children
}

// ReceiveGather records an inbound GATHER_CLAUSES(epoch) from a child. A
// mismatched epoch is a late arrival and is discarded per spec.md §4.7.
func (c *Communicator) ReceiveGather(fromRank int, epoch int32, buf *wire.ClauseBuffer) {
	if epoch != c.epoch || c.ph != gathering {
		c.logger.Debug("discarding stale gather", "from", fromRank, "epoch", epoch, "current", c.epoch)
		return
	}
	if c.childBufs == nil {
		c.childBufs = make(map[int]*wire.ClauseBuffer)
	}
	c.childBufs[fromRank] = buf
}

// ReadyToAggregate reports whether every expected input for the current
// gather epoch (local buffer, plus every live child) has arrived.
func (c *Communicator) ReadyToAggregate() bool {
	if c.ph != gathering || !c.haveLocal {
		return false
	}
	for _, rank := range c.childrenWant.Live() {
		if _, ok := c.childBufs[rank]; !ok {
			return false
		}
	}
	return true
}

// Aggregate merges the local buffer with every live child's buffer via the
// bucket merge growth rule and returns the merged buffer the caller should
// either forward up (inner node) or distribute down (root). Call only
// after ReadyToAggregate reports true.
func (c *Communicator) Aggregate() *wire.ClauseBuffer {
	bufs := make([]*wire.ClauseBuffer, 0, 1+len(c.childrenWant.Live()))
	bufs = append(bufs, c.localBuf)
	for _, rank := range c.childrenWant.Live() {
		bufs = append(bufs, c.childBufs[rank])
	}
	merged := MergeBuffers(bufs, c.cfg)
	if !c.lastEmission.IsZero() {
		gatherTimer.Update(time.Since(c.lastEmission))
	}
	if c.isRoot {
		c.ph = distributed
	} else {
		c.ph = idle
	}
	distributeSize.Update(int64(merged.NumClauses()))
	c.logger.Debug("aggregated clause buffers", "epoch", c.epoch, "clauses", merged.NumClauses(), "root", c.isRoot)
	return merged
}

// AcceptDistribute validates an inbound DISTRIBUTE_CLAUSES(epoch) against
// its checksum and the current epoch, per spec.md §4.7/§5: a distribute may
// only be accepted for the epoch this worker most recently gathered under
// (or forwarded), and a checksum mismatch drops the buffer as corrupt.
func (c *Communicator) AcceptDistribute(epoch int32, data []byte) (*wire.ClauseBuffer, bool) {
	if epoch != c.epoch {
		c.logger.Debug("discarding stale distribute", "epoch", epoch, "current", c.epoch)
		return nil, false
	}
	buf, err := wire.DecodeClauseBuffer(data, c.cfg.WithChecksum)
	if err != nil {
		c.logger.Crit("clause buffer corrupt, dropping", "epoch", epoch, "err", err)
		epochsAborted.Inc(1)
		c.ph = idle
		return nil, false
	}
	c.ph = idle
	return buf, true
}

// Encode serializes a merged buffer to its wire form for sending, using
// this communicator's configured bucket shape and checksum policy.
func (c *Communicator) Encode(buf *wire.ClauseBuffer) []byte {
	return wire.EncodeClauseBuffer(buf, c.cfg.MaxLbdPartitionedSize, c.cfg.MaxSize, c.cfg.MaxLBD, c.cfg.WithChecksum)
}

// FinishRootDistribute closes out the epoch at the root once its merged
// buffer has been digested locally and fanned out to live children: the
// root never receives its own DISTRIBUTE_CLAUSES back, so nothing else
// would otherwise return it to idle for the next BeginEpoch.
func (c *Communicator) FinishRootDistribute() {
	c.ph = idle
}
