// Package transfer holds the transfer record and its state machine
package transfer

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
)

// State of a transfer record
type State string

const (
	StateInitiated                    State = "INITIATED"
	StateBridgePending                State = "BRIDGE_PENDING"
	StateAwaitingDestinationExecution State = "AWAITING_DESTINATION_EXECUTION"
	StateCompleted                    State = "COMPLETED"
	StateFailed                       State = "FAILED"
)

// transitions lists the allowed next states; terminal states have none
var transitions = map[State][]State{
	StateInitiated:                    {StateBridgePending, StateFailed},
	StateBridgePending:                {StateAwaitingDestinationExecution, StateCompleted, StateFailed},
	StateAwaitingDestinationExecution: {StateCompleted, StateFailed},
}

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidID         = errors.New("invalid transfer id")
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// InFlight reports whether the record waits on a bridge delivery or destination execution
func (s State) InFlight() bool {
	return s == StateBridgePending || s == StateAwaitingDestinationExecution
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ID identifies a transfer record
type ID [32]byte

// Instance salts the ids of one issuer. Counters restart with the process, so every issuer
// sharing a record store needs its own instance.
type Instance [16]byte

// NewID derives a record id from the issuing instance, the sender, the sender's nonce and a
// monotonic counter. The inputs are fixed width, so the id does not depend on anything but them.
func NewID(instance Instance, sender common.Address, nonce, counter uint64) ID {
	var buf [len(Instance{}) + common.AddressLength + 16]byte
	n := copy(buf[:], instance[:])
	n += copy(buf[n:], sender.Bytes())
	binary.BigEndian.PutUint64(buf[n:], nonce)
	binary.BigEndian.PutUint64(buf[n+8:], counter)
	return ID(blake3.Sum256(buf[:]))
}

func (id ID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// ParseID reads the 0x prefixed hex form produced by String
func ParseID(s string) (ID, error) {
	var id ID
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != len(id) {
		return id, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	copy(id[:], raw)
	return id, nil
}

// Transition is one entry of a record's append only history
type Transition struct {
	From   State
	To     State
	Reason string
	At     time.Time
}

// Record tracks one transfer from initiation to a terminal state
type Record struct {
	ID        ID
	State     State
	Protocol  catalog.Protocol
	Sender    common.Address
	Recipient common.Address

	SourceChain uint64
	SourceToken string
	DestChain   uint64
	DestToken   string

	AmountIn     *uint256.Int
	Fee          *uint256.Int
	BridgedToken string
	// BridgedAmount is what was handed to the bridge, in bridged token units
	BridgedAmount *uint256.Int
	MinOutput     *uint256.Int
	AmountOut     *uint256.Int

	// BridgeDomain and BridgeNonce identify the outbound bridge message
	BridgeDomain uint32
	BridgeNonce  uint64

	RouteKey       common.Hash
	CatalogVersion uint64
	FailureReason  string

	CreatedAt time.Time
	UpdatedAt time.Time
	History   []Transition
}

// Update carries the fields a transition may set
type Update struct {
	Reason        string
	AmountOut     *uint256.Int
	BridgedAmount *uint256.Int
	BridgeDomain  uint32
	BridgeNonce   uint64
}

// Apply moves the record to the next state, rejecting anything but a forward transition
func (r *Record) Apply(to State, u Update, now time.Time) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	r.History = append(r.History, Transition{From: r.State, To: to, Reason: u.Reason, At: now})
	r.State = to
	r.UpdatedAt = now

	if u.AmountOut != nil {
		r.AmountOut = u.AmountOut.Clone()
	}
	if u.BridgedAmount != nil {
		r.BridgedAmount = u.BridgedAmount.Clone()
	}
	if u.BridgeDomain != 0 || u.BridgeNonce != 0 {
		r.BridgeDomain = u.BridgeDomain
		r.BridgeNonce = u.BridgeNonce
	}
	if to == StateFailed {
		r.FailureReason = u.Reason
	}
	return nil
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	out := *r
	out.AmountIn = cloneAmount(r.AmountIn)
	out.Fee = cloneAmount(r.Fee)
	out.BridgedAmount = cloneAmount(r.BridgedAmount)
	out.MinOutput = cloneAmount(r.MinOutput)
	out.AmountOut = cloneAmount(r.AmountOut)
	out.History = append([]Transition(nil), r.History...)
	return &out
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return nil
	}
	return v.Clone()
}
