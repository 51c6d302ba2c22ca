//go:build linux

package rawsock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIsFatalSendError(t *testing.T) {
	assert.True(t, IsFatalSendError(unix.EBADF))
	assert.True(t, IsFatalSendError(unix.ENOTSOCK))
	assert.False(t, IsFatalSendError(unix.EAGAIN))
	assert.False(t, IsFatalSendError(errors.New("boom")))
}

func TestClassifyRecvErrWouldBlock(t *testing.T) {
	err := classifyRecvErr(unix.EAGAIN)
	assert.ErrorIs(t, err, ErrWouldBlock)

	other := errors.New("boom")
	assert.Equal(t, other, classifyRecvErr(other))
}

// New requires raw-socket privilege (CAP_NET_RAW) and is not tested here;
// the target registry tests reach it through Reconcile and tolerate its
// failure when unprivileged.
