package raster

import "sync"

// Accessor is the read side of an elevation raster.
type Accessor interface {
	HasData(x, y int) bool
	Data(x, y int) float64
}

// LockedAccessor serializes every call to an accessor that is not safe for
// concurrent use, such as a reader backed by a non-reentrant raster library.
type LockedAccessor struct {
	mu    sync.Mutex
	inner Accessor
}

// Locked wraps acc so that concurrent expansion workers can share it.
func Locked(acc Accessor) *LockedAccessor {
	return &LockedAccessor{inner: acc}
}

// HasData implements Accessor.
func (l *LockedAccessor) HasData(x, y int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.HasData(x, y)
}

// Data implements Accessor.
func (l *LockedAccessor) Data(x, y int) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Data(x, y)
}
