package rdma

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextSendStateHappyPath(t *testing.T) {
	s := SendInit
	s, err := NextSendState(s, EventMRSendComplete)
	require.NoError(t, err)
	require.Equal(t, SendMRSent, s)

	s, err = NextSendState(s, EventReadBatchComplete)
	require.NoError(t, err)
	require.Equal(t, SendRDMASent, s)

	// Repeated batches stay in RDMA_SENT.
	s, err = NextSendState(s, EventReadBatchComplete)
	require.NoError(t, err)
	require.Equal(t, SendRDMASent, s)

	s, err = NextSendState(s, EventDoneSendComplete)
	require.NoError(t, err)
	require.Equal(t, SendDoneSent, s)
}

func TestNextSendStateRejectsOutOfOrder(t *testing.T) {
	_, err := NextSendState(SendInit, EventReadBatchComplete)
	require.Error(t, err, "expected error issuing a read batch before the MR handshake")

	_, err = NextSendState(SendInit, EventDoneSendComplete)
	require.Error(t, err, "expected error sending DONE before any reads")
}

func TestNextRecvStateHappyPath(t *testing.T) {
	r := RecvInit
	r, err := NextRecvState(r, EventMRReceived)
	require.NoError(t, err)
	require.Equal(t, RecvMRRecv, r)

	r, err = NextRecvState(r, EventDoneReceived)
	require.NoError(t, err)
	require.Equal(t, RecvDoneRecv, r)
}

func TestNextRecvStateRejectsOutOfOrder(t *testing.T) {
	_, err := NextRecvState(RecvInit, EventDoneReceived)
	require.Error(t, err, "expected error receiving DONE before the MR handshake")
}
