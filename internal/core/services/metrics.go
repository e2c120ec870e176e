package services

import (
	"time"

	"fluxx/internal/core/domain"
)

// Metrics receives engine and controller measurements. The prometheus
// collector in infrastructure/monitoring implements it.
type Metrics interface {
	SessionCreated(role domain.Role)
	SessionClosed()
	SignalDiscarded(msgType domain.MessageType, reason string)
	CandidateApplied(buffered bool)
	CandidateRejected()
	ICERestart(ok bool)
	ConnectionState(state domain.ConnectionState)
	TimeToConnect(d time.Duration)
	QueueTransition(from, to domain.QueueStatus)
}

type noopMetrics struct{}

// NoopMetrics discards everything.
func NoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) SessionCreated(domain.Role)                             {}
func (noopMetrics) SessionClosed()                                         {}
func (noopMetrics) SignalDiscarded(domain.MessageType, string)             {}
func (noopMetrics) CandidateApplied(bool)                                  {}
func (noopMetrics) CandidateRejected()                                     {}
func (noopMetrics) ICERestart(bool)                                        {}
func (noopMetrics) ConnectionState(domain.ConnectionState)                 {}
func (noopMetrics) TimeToConnect(time.Duration)                            {}
func (noopMetrics) QueueTransition(domain.QueueStatus, domain.QueueStatus) {}
