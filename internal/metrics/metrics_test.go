package metrics

import "testing"

func TestCacheCountersDoNotPanic(t *testing.T) {
	c := NewCache()
	c.Hit()
	c.Miss()
	c.Eviction()
	c.Flush()
	c.ReadAheadQueued()
}

func TestAllocatorCountersDoNotPanic(t *testing.T) {
	a := NewAllocator()
	a.SetFree(10)
	a.AddAllocated(3)
	a.AddReleased(1)
}

func TestNewCacheAndAllocatorShareRegistrationGuard(t *testing.T) {
	// register() is called from both constructors; invoking each
	// multiple times must not panic on duplicate prometheus registration.
	_ = NewCache()
	_ = NewAllocator()
	_ = NewCache()
	_ = NewAllocator()
}
