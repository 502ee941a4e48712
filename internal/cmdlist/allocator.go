// Package cmdlist records explicit GPU command lists.
//
// An Allocator owns the memory commands are recorded into. A List records
// into one allocator at a time, tracks the state of every resource it
// touches starting from the resource table, validates barriers against those
// states and resolves descriptor handles into views. Closing the list yields
// a gpucore.CommandStream for the queue.
//
// An allocator's memory is still read by the GPU until the fence reaches
// the value signaled after its last submission; Reset refuses to recycle it
// earlier.
package cmdlist

import (
	"errors"
	"fmt"

	"github.com/gogpu/banding/internal/gpucore"
)

// Errors returned by allocators and lists.
var (
	// ErrAllocatorInFlight is returned by Allocator.Reset while the GPU may
	// still execute commands recorded into it.
	ErrAllocatorInFlight = errors.New("cmdlist: allocator reset while GPU work is in flight")

	// ErrAllocatorBusy is returned when a list is reset onto an allocator
	// another open list records into.
	ErrAllocatorBusy = errors.New("cmdlist: allocator is recording")

	// ErrUnpairedTransition is returned by List.Close when a swap chain
	// buffer is not back in the present state.
	ErrUnpairedTransition = errors.New("cmdlist: back buffer not returned to present state")

	// ErrStateMismatch is recorded when a barrier's before-state differs
	// from the tracked state, or a command needs a state the resource is
	// not in.
	ErrStateMismatch = errors.New("cmdlist: resource state mismatch")

	ErrClosed         = errors.New("cmdlist: list is closed")
	ErrOpen           = errors.New("cmdlist: list is still recording")
	ErrNoRootSig      = errors.New("cmdlist: no root signature set")
	ErrRootParameter  = errors.New("cmdlist: root parameter kind mismatch")
	ErrNoHeap         = errors.New("cmdlist: handle not in a bound descriptor heap")
	ErrIncompleteDraw = errors.New("cmdlist: draw state incomplete")
)

// FenceReader reports a fence's completed value.
type FenceReader interface {
	CompletedValue(id gpucore.FenceID) uint64
}

// Allocator is the backing store of recorded commands.
type Allocator struct {
	label   string
	fences  FenceReader
	fence   gpucore.FenceID
	pending uint64

	commands  []gpucore.Command
	recording bool
}

// NewAllocator creates an allocator guarded by fence.
func NewAllocator(fences FenceReader, fence gpucore.FenceID, label string) *Allocator {
	return &Allocator{label: label, fences: fences, fence: fence}
}

// Label returns the debug label.
func (a *Allocator) Label() string { return a.label }

// MarkSubmitted records the fence value signaled after the allocator's
// commands were submitted.
func (a *Allocator) MarkSubmitted(value uint64) {
	if value > a.pending {
		a.pending = value
	}
}

// Pending returns the fence value that must complete before Reset.
func (a *Allocator) Pending() uint64 { return a.pending }

// Reset recycles the command memory. It fails with ErrAllocatorInFlight if
// the fence has not reached the value of the last submission, and with
// ErrAllocatorBusy while a list records into it.
func (a *Allocator) Reset() error {
	if a.recording {
		return ErrAllocatorBusy
	}
	if done := a.fences.CompletedValue(a.fence); done < a.pending {
		return fmt.Errorf("%w: %s fence at %d, last submission signals %d",
			ErrAllocatorInFlight, a.label, done, a.pending)
	}
	clear(a.commands)
	a.commands = a.commands[:0]
	return nil
}
