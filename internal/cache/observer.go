package cache

// Observer receives cache events for metrics emission. Implementations must
// be non-blocking: notifications are fired from the serving path and are
// never allowed to slow it down.
type Observer interface {
	Hit(key string, size int64)
	Miss(key string)
	Eviction(key string, size int64)
	IOError(op string)
}

// noopObserver is the default when no metrics collaborator is wired.
type noopObserver struct{}

func (noopObserver) Hit(string, int64)      {}
func (noopObserver) Miss(string)            {}
func (noopObserver) Eviction(string, int64) {}
func (noopObserver) IOError(string)         {}
