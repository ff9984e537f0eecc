package ble

import "fmt"

// LinkPhase is the discriminant of the connection state machine. Exactly one
// phase holds at a time; every mutation of the discovered-device list and the
// telemetry stream happens through a phase transition.
type LinkPhase int

const (
	PhaseDisconnected LinkPhase = iota
	PhaseScanning
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseFailed
)

func (p LinkPhase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseScanning:
		return "scanning"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailReason tags a terminal or transient failure surfaced by the machine.
type FailReason int

const (
	FailNone FailReason = iota
	FailRadioUnavailable
	FailPermissionDenied
	FailConnectTimeout
	FailLinkLost
)

func (r FailReason) String() string {
	switch r {
	case FailNone:
		return "none"
	case FailRadioUnavailable:
		return "radio unavailable"
	case FailPermissionDenied:
		return "permission denied"
	case FailConnectTimeout:
		return "connect timeout"
	case FailLinkLost:
		return "link lost"
	default:
		return "unknown"
	}
}

// ConnectionState is the published state of the machine. Attempt is only
// meaningful while reconnecting, Reason only when failed.
type ConnectionState struct {
	Phase   LinkPhase
	Attempt int
	Reason  FailReason
	Address string // connected / connecting peer, empty otherwise
}

func (s ConnectionState) String() string {
	switch s.Phase {
	case PhaseReconnecting:
		return fmt.Sprintf("reconnecting(attempt=%d)", s.Attempt)
	case PhaseFailed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return s.Phase.String()
	}
}

// allowedTransitions is the closed transition table. A transition absent from
// the table is a bug in the caller and is rejected, not applied.
var allowedTransitions = map[LinkPhase][]LinkPhase{
	PhaseDisconnected: {PhaseScanning},
	PhaseScanning:     {PhaseScanning, PhaseConnecting, PhaseDisconnected, PhaseFailed},
	PhaseConnecting:   {PhaseConnected, PhaseFailed, PhaseDisconnected},
	PhaseConnected:    {PhaseReconnecting, PhaseDisconnected},
	PhaseReconnecting: {PhaseReconnecting, PhaseConnected, PhaseFailed, PhaseDisconnected},
	PhaseFailed:       {PhaseScanning, PhaseDisconnected},
}

func transitionAllowed(from, to LinkPhase) bool {
	for _, p := range allowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
