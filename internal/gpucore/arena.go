package gpucore

// Handle is the raw form of every typed ID in this package.
// The low 32 bits hold the slot index plus one, the high 32 bits the slot
// generation. Zero is never issued.
type Handle uint64

// Typed handles. Each backend keeps one arena per object kind.
type (
	// ResourceID is an opaque handle to a buffer or texture.
	ResourceID Handle

	// ShaderModuleID is an opaque handle to a compiled shader module.
	ShaderModuleID Handle

	// PipelineID is an opaque handle to a graphics pipeline state object.
	PipelineID Handle

	// FenceID is an opaque handle to a fence.
	FenceID Handle
)

// InvalidID is the zero value, representing an invalid/null object.
const InvalidID = 0

func makeHandle(index, gen uint32) uint64 {
	return uint64(gen)<<32 | uint64(index+1)
}

func splitHandle(h uint64) (index, gen uint32, ok bool) {
	lo := uint32(h)
	if lo == 0 {
		return 0, 0, false
	}
	return lo - 1, uint32(h >> 32), true
}

type arenaSlot[T any] struct {
	gen   uint32
	used  bool
	value T
}

// Arena stores values behind generation-checked handles.
//
// Removing a value frees its slot for reuse and bumps the slot generation,
// so handles issued before the removal no longer resolve. Arena is not safe
// for concurrent use; owners guard it with their own lock.
type Arena[H ~uint64, T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

// Insert stores v and returns its handle.
func (a *Arena[H, T]) Insert(v T) H {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, arenaSlot[T]{gen: 1})
	}
	s := &a.slots[idx]
	s.used = true
	s.value = v
	a.live++
	return H(makeHandle(idx, s.gen))
}

func (a *Arena[H, T]) slot(h H) *arenaSlot[T] {
	idx, gen, ok := splitHandle(uint64(h))
	if !ok || int(idx) >= len(a.slots) {
		return nil
	}
	s := &a.slots[idx]
	if !s.used || s.gen != gen {
		return nil
	}
	return s
}

// Get returns the value stored behind h.
// The second result is false for zero, stale or foreign handles.
func (a *Arena[H, T]) Get(h H) (T, bool) {
	if s := a.slot(h); s != nil {
		return s.value, true
	}
	var zero T
	return zero, false
}

// Ptr returns a pointer to the stored value, or nil if h does not resolve.
// The pointer is invalidated by the next Insert.
func (a *Arena[H, T]) Ptr(h H) *T {
	if s := a.slot(h); s != nil {
		return &s.value
	}
	return nil
}

// Contains reports whether h resolves to a live value.
func (a *Arena[H, T]) Contains(h H) bool {
	return a.slot(h) != nil
}

// Remove deletes the value behind h and returns it.
func (a *Arena[H, T]) Remove(h H) (T, bool) {
	s := a.slot(h)
	var zero T
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.used = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	idx, _, _ := splitHandle(uint64(h))
	a.free = append(a.free, idx)
	a.live--
	return v, true
}

// Len returns the number of live values.
func (a *Arena[H, T]) Len() int {
	return a.live
}

// Each calls fn for every live value in slot order.
func (a *Arena[H, T]) Each(fn func(H, *T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.used {
			fn(H(makeHandle(uint32(i), s.gen)), &s.value)
		}
	}
}
