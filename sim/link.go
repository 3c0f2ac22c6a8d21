package sim

// LinkState is whether a Link currently carries traffic.
type LinkState string

const (
	LinkUp   LinkState = "up"
	LinkDown LinkState = "down"
)

// Link is an undirected edge between two StorageNodes, carrying a capacity
// and a propagation latency that TransferEngine splits fairly across
// concurrent flows each tick (§4.5).
type Link struct {
	A, B         NodeID
	BandwidthBps float64
	LatencyMs    float64
	State        LinkState
}

// NewLink constructs an up Link between a and b.
func NewLink(a, b NodeID, bandwidthBps, latencyMs float64) *Link {
	return &Link{A: a, B: b, BandwidthBps: bandwidthBps, LatencyMs: latencyMs, State: LinkUp}
}

// Endpoints returns the link's two endpoints.
func (l *Link) Endpoints() (NodeID, NodeID) { return l.A, l.B }

// Other returns the endpoint opposite n, or "" if n is not one of the
// link's endpoints.
func (l *Link) Other(n NodeID) NodeID {
	switch n {
	case l.A:
		return l.B
	case l.B:
		return l.A
	default:
		return ""
	}
}

// Has reports whether n is one of the link's endpoints.
func (l *Link) Has(n NodeID) bool { return n == l.A || n == l.B }

// Up reports whether the link is currently carrying traffic.
func (l *Link) Up() bool { return l.State == LinkUp }

// SetUp marks the link up or down, e.g. on ControllerAPI.FailLink/RestoreLink.
func (l *Link) SetUp(up bool) {
	if up {
		l.State = LinkUp
	} else {
		l.State = LinkDown
	}
}

// linkKey returns a direction-independent identity for use as a map key, so
// (a,b) and (b,a) refer to the same link.
func linkKey(a, b NodeID) [2]NodeID {
	if a <= b {
		return [2]NodeID{a, b}
	}
	return [2]NodeID{b, a}
}
