package remote

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/forge/internal/interfaces"
)

func TestClassifyServiceStatus(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   interfaces.ServiceState
	}{
		{
			name:   "running unit",
			output: "● job-1.service\n   Active: active (running) since Mon 2026-08-24",
			want:   interfaces.ServiceStateStarting,
		},
		{
			name:   "finished one-shot",
			output: "● job-1.service\n   Active: inactive (dead) since Mon 2026-08-24",
			want:   interfaces.ServiceStateSuccess,
		},
		{
			name:   "failed unit",
			output: "● job-1.service\n   Active: failed (Result: exit-code)",
			want:   interfaces.ServiceStateFailed,
		},
		{
			name:   "missing unit",
			output: "Unit job-1.service could not be found.",
			want:   interfaces.ServiceStateError,
		},
		{
			name:   "unrecognized output",
			output: "something unexpected",
			want:   interfaces.ServiceStateError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyServiceStatus(tt.output))
		})
	}
}

func TestPumpLines_BuffersPartialTail(t *testing.T) {
	r, w := io.Pipe()
	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		pumpLines(context.Background(), r, lines)
	}()

	_, err := w.Write([]byte("epoch 1"))
	require.NoError(t, err)

	// an unterminated fragment stays buffered
	select {
	case line := <-lines:
		t.Fatalf("partial tail delivered early: %q", line)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = w.Write([]byte(" done\nepoch 2 running\nepo"))
	require.NoError(t, err)

	assert.Equal(t, "epoch 1 done\n", <-lines)
	assert.Equal(t, "epoch 2 running\n", <-lines)

	// closing the stream flushes the remaining fragment as-is
	require.NoError(t, w.Close())
	assert.Equal(t, "epo", <-lines)

	_, open := <-lines
	assert.False(t, open)
}

func TestPumpChunks_SplitsAtChunkSize(t *testing.T) {
	content := []byte("0123456789")
	chunks := make(chan []byte, 8)
	go func() {
		defer close(chunks)
		pumpChunks(context.Background(), bytes.NewReader(content), 4, time.Second, chunks)
	}()

	var sizes []int
	var got []byte
	for chunk := range chunks {
		sizes = append(sizes, len(chunk))
		got = append(got, chunk...)
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
	assert.Equal(t, content, got)
}

func TestPumpChunks_DeadlineEndsStalledStream(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	// no receiver ever drains the channel, so the deadline must fire
	chunks := make(chan []byte)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpChunks(context.Background(), r, 4, 30*time.Millisecond, chunks)
	}()

	_, err := w.Write([]byte("data"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled stream was not ended by the deadline")
	}
}

func TestParseListeningPorts(t *testing.T) {
	output := `Active Internet connections (only servers)
Proto Recv-Q Send-Q Local Address           Foreign Address         State
tcp        0      0 0.0.0.0:22              0.0.0.0:*               LISTEN
tcp        0      0 127.0.0.1:30000         0.0.0.0:*               LISTEN
tcp6       0      0 :::8000                 :::*                    LISTEN
udp        0      0 0.0.0.0:68              0.0.0.0:*
`

	used := parseListeningPorts(output)
	assert.True(t, used[22])
	assert.True(t, used[30000])
	assert.True(t, used[8000])
	assert.True(t, used[68])
	assert.False(t, used[30001])
}
