package sim

import "fmt"

// ErrorKind identifies a recoverable error condition surfaced to callers of
// ControllerAPI. None of these are fatal to the simulator: the affected
// transfer or call fails, unrelated state is unaffected.
type ErrorKind string

const (
	ErrNoRoute          ErrorKind = "no_route"
	ErrNoSpace          ErrorKind = "no_space"
	ErrOOM              ErrorKind = "oom"
	ErrDiskOffline      ErrorKind = "disk_offline"
	ErrNodeOffline      ErrorKind = "node_offline"
	ErrChecksumMismatch ErrorKind = "checksum_mismatch"
	ErrRouteLost        ErrorKind = "route_lost"
	ErrReplicaSyncFailed ErrorKind = "replica_sync_failed"
	ErrUnknownNode      ErrorKind = "unknown_node"
	ErrDuplicateNode    ErrorKind = "duplicate_node"
	ErrInvalidArgument  ErrorKind = "invalid_argument"
)

// SimError wraps an ErrorKind with call-site context. Callers compare against
// a kind with errors.Is (SimError implements Is via kind equality) rather
// than matching message strings.
type SimError struct {
	Kind    ErrorKind
	Message string
}

func (e *SimError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is supports errors.Is(err, ErrNoRoute)-style comparison via a sentinel
// *SimError whose Kind is set and Message is empty.
func (e *SimError) Is(target error) bool {
	t, ok := target.(*SimError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// newErr constructs a *SimError for the given kind, formatting Message like
// fmt.Sprintf.
func newErr(kind ErrorKind, format string, args ...any) *SimError {
	return &SimError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinel errors for errors.Is comparisons, one per ErrorKind.
var (
	NoRoute          = &SimError{Kind: ErrNoRoute}
	NoSpace          = &SimError{Kind: ErrNoSpace}
	OOM              = &SimError{Kind: ErrOOM}
	DiskOffline      = &SimError{Kind: ErrDiskOffline}
	NodeOffline      = &SimError{Kind: ErrNodeOffline}
	ChecksumMismatch = &SimError{Kind: ErrChecksumMismatch}
	RouteLost        = &SimError{Kind: ErrRouteLost}
	ReplicaSyncFailed = &SimError{Kind: ErrReplicaSyncFailed}
	UnknownNode      = &SimError{Kind: ErrUnknownNode}
	DuplicateNode    = &SimError{Kind: ErrDuplicateNode}
	InvalidArgument  = &SimError{Kind: ErrInvalidArgument}
)
