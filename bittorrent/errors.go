package bittorrent

// ErrorKind classifies a tracker-level error so that a front-end knows how
// to translate it onto the wire, per the error handling design in §7.
type ErrorKind uint8

const (
	// InvalidQuery means the client supplied malformed input.
	InvalidQuery ErrorKind = iota
	// PolicyDenied means a whitelist/blacklist/key check failed.
	PolicyDenied
	// PersistenceTransient means a database round-trip failed; retried on
	// the next flush interval, never surfaced to the client.
	PersistenceTransient
	// PersistenceFatal means the initial database connection failed at
	// start-up; the process terminates.
	PersistenceFatal
	// ClusterUnavailable means a slave could not reach its master, or the
	// request timed out waiting for a reply.
	ClusterUnavailable
	// ConfigInvalid means a configuration value failed validation at
	// start-up; the process terminates.
	ConfigInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidQuery:
		return "invalid_query"
	case PolicyDenied:
		return "policy_denied"
	case PersistenceTransient:
		return "persistence_transient"
	case PersistenceFatal:
		return "persistence_fatal"
	case ClusterUnavailable:
		return "cluster_unavailable"
	case ConfigInvalid:
		return "config_invalid"
	default:
		return "unknown"
	}
}

// TrackerError is a ClientError annotated with an ErrorKind, letting
// front-ends decide whether to surface the message verbatim (InvalidQuery,
// PolicyDenied, ClusterUnavailable) or to log-and-swallow it
// (PersistenceTransient).
type TrackerError struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *TrackerError) Error() string { return e.Message }

// NewClientError builds a TrackerError of kind InvalidQuery.
func NewClientError(msg string) *TrackerError {
	return &TrackerError{Kind: InvalidQuery, Message: msg}
}

// NewPolicyError builds a TrackerError of kind PolicyDenied.
func NewPolicyError(msg string) *TrackerError {
	return &TrackerError{Kind: PolicyDenied, Message: msg}
}

// NewClusterError builds a TrackerError of kind ClusterUnavailable.
func NewClusterError(msg string) *TrackerError {
	return &TrackerError{Kind: ClusterUnavailable, Message: msg}
}

// AsTrackerError unwraps err into a *TrackerError, synthesizing an
// InvalidQuery-kind wrapper around a plain ClientError for callers that
// still return the older sentinel type.
func AsTrackerError(err error) *TrackerError {
	if err == nil {
		return nil
	}
	if te, ok := err.(*TrackerError); ok {
		return te
	}
	return &TrackerError{Kind: InvalidQuery, Message: err.Error()}
}
