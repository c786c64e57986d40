package rdma

import "fmt"

// SendState is a connection's outbound control-path state (spec §3).
type SendState int

const (
	SendInit SendState = iota
	SendMRSent
	SendRDMASent
	SendDoneSent
)

func (s SendState) String() string {
	switch s {
	case SendInit:
		return "INIT"
	case SendMRSent:
		return "MR_SENT"
	case SendRDMASent:
		return "RDMA_SENT"
	case SendDoneSent:
		return "DONE_SENT"
	default:
		return "UNKNOWN"
	}
}

// RecvState is a connection's inbound control-path state (spec §3).
type RecvState int

const (
	RecvInit RecvState = iota
	RecvMRRecv
	RecvDoneRecv
)

func (s RecvState) String() string {
	switch s {
	case RecvInit:
		return "INIT"
	case RecvMRRecv:
		return "MR_RECV"
	case RecvDoneRecv:
		return "DONE_RECV"
	default:
		return "UNKNOWN"
	}
}

// SendEvent names a transition input on the send side.
type SendEvent int

const (
	EventMRSendComplete SendEvent = iota
	EventReadBatchComplete
	EventDoneSendComplete
)

// RecvEvent names a transition input on the recv side.
type RecvEvent int

const (
	EventMRReceived RecvEvent = iota
	EventDoneReceived
)

// NextSendState applies an explicit (state, event) -> state transition
// function, replacing the source's post-increment-the-enum approach
// (spec §9 REDESIGN FLAGS: "Send/recv states as monotonically
// incrementing counters"). An invalid transition is reported as an error
// so the caller can fail the connection rather than silently corrupt
// state.
func NextSendState(cur SendState, ev SendEvent) (SendState, error) {
	switch ev {
	case EventMRSendComplete:
		if cur == SendInit {
			return SendMRSent, nil
		}
	case EventReadBatchComplete:
		if cur == SendMRSent || cur == SendRDMASent {
			return SendRDMASent, nil
		}
	case EventDoneSendComplete:
		if cur == SendRDMASent {
			return SendDoneSent, nil
		}
	}
	return cur, fmt.Errorf("rdma: invalid send transition from %s on event %d", cur, ev)
}

// NextRecvState applies the recv-side transition function.
func NextRecvState(cur RecvState, ev RecvEvent) (RecvState, error) {
	switch ev {
	case EventMRReceived:
		if cur == RecvInit {
			return RecvMRRecv, nil
		}
	case EventDoneReceived:
		if cur == RecvMRRecv {
			return RecvDoneRecv, nil
		}
	}
	return cur, fmt.Errorf("rdma: invalid recv transition from %s on event %d", cur, ev)
}
