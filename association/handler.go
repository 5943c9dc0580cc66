package association

// StatusHandler is told when an association ends with an orderly release.
// It runs on the goroutine that drove the association.
type StatusHandler interface {
	AssociationReleased(a *Association)
}

// AbortObserver may additionally be implemented by a StatusHandler to learn
// about associations that ended in A-ABORT or a transport failure.
type AbortObserver interface {
	AssociationAborted(a *Association, cause error)
}

// StatusHandlerFunc adapts a function to StatusHandler.
type StatusHandlerFunc func(a *Association)

// AssociationReleased implements StatusHandler.
func (f StatusHandlerFunc) AssociationReleased(a *Association) {
	f(a)
}

// StatusHandlers fans out notifications to several handlers in order.
type StatusHandlers []StatusHandler

// AssociationReleased implements StatusHandler.
func (hs StatusHandlers) AssociationReleased(a *Association) {
	for _, h := range hs {
		if h != nil {
			h.AssociationReleased(a)
		}
	}
}

// AssociationAborted implements AbortObserver.
func (hs StatusHandlers) AssociationAborted(a *Association, cause error) {
	for _, h := range hs {
		if observer, ok := h.(AbortObserver); ok {
			observer.AssociationAborted(a, cause)
		}
	}
}
