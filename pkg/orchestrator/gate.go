package orchestrator

// Gate admits at most one holder at a time. TryAcquire never blocks.
type Gate interface {
	// TryAcquire takes the gate and reports true, or reports false if it is held
	TryAcquire() bool

	// Release frees the gate; it must only be called by the holder
	Release()

	// Held reports whether the gate is currently taken
	Held() bool
}

// chanGate implements Gate with a one-slot channel.
type chanGate struct {
	slot chan struct{}
}

// NewGate returns an unheld Gate. Orchestrators that share a Gate share
// its single-flight guarantee.
func NewGate() Gate {
	return &chanGate{slot: make(chan struct{}, 1)}
}

func (g *chanGate) TryAcquire() bool {
	select {
	case g.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *chanGate) Release() {
	select {
	case <-g.slot:
	default:
	}
}

func (g *chanGate) Held() bool {
	return len(g.slot) == 1
}
