// SPDX-License-Identifier: GPL-3.0-or-later

package socket

import (
	"math"
	"testing"
	"time"

	"github.com/rbmk-project/vsock/vstack"
	"github.com/stretchr/testify/assert"
)

func TestTimeoutMillis(t *testing.T) {
	cases := []struct {
		timeout time.Duration
		expect  int
	}{
		{-time.Second, -1},
		{0, 0},
		{time.Nanosecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{3 * time.Second, 3000},
		{30 * 24 * time.Hour, math.MaxInt32},
		{time.Duration(math.MaxInt64), math.MaxInt32},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expect, timeoutMillis(tc.timeout), tc.timeout.String())
	}
}

func TestPollMask(t *testing.T) {
	assert.Equal(t, int16(vstack.PollIn|vstack.PollOut|vstack.PollPri), AnyEvent.events())
	assert.Equal(t, int16(vstack.PollIn), ReadyToAccept.events())
	assert.Equal(t, ReadyToReceive|ReadyToSend, pollMaskFrom(vstack.PollIn|vstack.PollOut|vstack.PollHup))
	assert.Zero(t, pollMaskFrom(vstack.PollNval))
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "stream", Stream.String())
	assert.Equal(t, "datagram", Datagram.String())
	assert.Equal(t, "raw", Raw.String())
	assert.Equal(t, "Type(9)", Type(9).String())
}
