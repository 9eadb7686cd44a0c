package metrics

import "time"

// BrokerMetrics provides observability for the socket adapter and the
// operation executor.
//
// This interface is optional: components that are given nil fall back to
// NewNoopBrokerMetrics with zero overhead.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewBrokerMetrics()
//	adapter := socket.New(config, exec, auth, m)
//
//	// Without metrics (no-op)
//	adapter := socket.New(config, exec, auth, nil)
type BrokerMetrics interface {
	// RecordRequest records a completed request.
	//
	// Parameters:
	//   - command: command name (e.g. "write", "delete"), or "auth"/"protocol"
	//     for requests that never reached the executor
	//   - duration: time from header read to response written
	//   - kind: failure kind, empty on success
	RecordRequest(command string, duration time.Duration, kind string)

	// RecordRequestStart increments the in-flight gauge for command.
	RecordRequestStart(command string)

	// RecordRequestEnd decrements the in-flight gauge for command.
	RecordRequestEnd(command string)

	// RecordPayloadBytes records the size of an accepted write payload.
	RecordPayloadBytes(bytes uint64)

	// RecordAuthFailure counts a rejected request by reason.
	RecordAuthFailure(reason string)

	// RecordRetentionRefusal counts a delete blocked by an active window.
	RecordRetentionRefusal()

	// RecordLabelFailure counts a failed immutability label.
	RecordLabelFailure()

	// RecordLedgerOperation records one ledger call.
	//
	// Parameters:
	//   - operation: "append", "query", "lookup" or "export"
	//   - duration: time taken
	//   - err: error if the call failed
	RecordLedgerOperation(operation string, duration time.Duration, err error)

	// RecordArchiveUpload records one ledger snapshot upload.
	RecordArchiveUpload(duration time.Duration, bytes int64, err error)

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed by the shutdown
	// timeout.
	RecordConnectionForceClosed()
}

// NewNoopBrokerMetrics returns a BrokerMetrics that records nothing.
func NewNoopBrokerMetrics() BrokerMetrics {
	return noopBrokerMetrics{}
}

// OrNoop returns m, or a no-op implementation when m is nil.
func OrNoop(m BrokerMetrics) BrokerMetrics {
	if m == nil {
		return noopBrokerMetrics{}
	}
	return m
}

type noopBrokerMetrics struct{}

func (noopBrokerMetrics) RecordRequest(string, time.Duration, string)        {}
func (noopBrokerMetrics) RecordRequestStart(string)                          {}
func (noopBrokerMetrics) RecordRequestEnd(string)                            {}
func (noopBrokerMetrics) RecordPayloadBytes(uint64)                          {}
func (noopBrokerMetrics) RecordAuthFailure(string)                           {}
func (noopBrokerMetrics) RecordRetentionRefusal()                            {}
func (noopBrokerMetrics) RecordLabelFailure()                                {}
func (noopBrokerMetrics) RecordLedgerOperation(string, time.Duration, error) {}
func (noopBrokerMetrics) RecordArchiveUpload(time.Duration, int64, error)    {}
func (noopBrokerMetrics) SetActiveConnections(int32)                         {}
func (noopBrokerMetrics) RecordConnectionAccepted()                          {}
func (noopBrokerMetrics) RecordConnectionClosed()                            {}
func (noopBrokerMetrics) RecordConnectionForceClosed()                       {}
