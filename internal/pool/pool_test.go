package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetBufferIsEmpty(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("frame")
	PutBuffer(buf)

	again := GetBuffer()
	require.Zero(t, again.Len())
	PutBuffer(again)
}

func TestPutBufferDropsOversized(t *testing.T) {
	big := bytes.NewBuffer(make([]byte, 0, MaxBufferCap+1))
	// 풀에 들어가지 않아야 하므로 내용이 그대로 남는다.
	big.WriteString("x")
	PutBuffer(big)
	require.Equal(t, 1, big.Len())
}
