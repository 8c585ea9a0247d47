package host

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/liveprobe/pkg/ipc"
	"github.com/rexliu/liveprobe/pkg/journal"
	"github.com/rexliu/liveprobe/pkg/queue"
	"github.com/rexliu/liveprobe/pkg/router"
)

type memoryRecorder struct {
	entries []journal.Entry
	fail    bool
}

func (m *memoryRecorder) Record(_ context.Context, e journal.Entry) (journal.Entry, error) {
	if m.fail {
		return journal.Entry{}, errors.New("disk full")
	}
	m.entries = append(m.entries, e)
	return e, nil
}

func newHost(t *testing.T, rec Recorder) (*Host, *queue.Queue[ipc.Request], *queue.Queue[ipc.Response]) {
	t.Helper()
	r := router.New(nil)
	require.NoError(t, r.RegisterFunc("echo", func(_ context.Context, req *ipc.Request) (any, error) {
		return map[string]any{"id": req.ID}, nil
	}))
	commands := queue.New[ipc.Request]()
	responses := queue.New[ipc.Response]()
	var opts []Option
	if rec != nil {
		opts = append(opts, WithRecorder(rec))
	}
	return New(commands, responses, r, opts...), commands, responses
}

func TestTickProducesOneResponsePerRequest(t *testing.T) {
	h, commands, responses := newHost(t, nil)
	commands.Enqueue(ipc.Request{ID: 1, Method: "echo"})
	commands.Enqueue(ipc.Request{ID: 2, Method: "nope"})
	commands.Enqueue(ipc.Request{ID: 3, Method: ""})

	assert.Equal(t, 3, h.Tick(context.Background()))
	assert.Equal(t, 0, commands.Count())
	require.Equal(t, 3, responses.Count())

	first, _ := responses.TryDequeue()
	assert.Equal(t, int64(1), first.ID)
	assert.Nil(t, first.Error)
	second, _ := responses.TryDequeue()
	assert.Equal(t, ipc.CodeMethodNotFound, second.Error.Code)
	third, _ := responses.TryDequeue()
	assert.Equal(t, ipc.CodeInvalidRequest, third.Error.Code)

	assert.Equal(t, 0, h.Tick(context.Background()))
}

func TestTickJournalsExchanges(t *testing.T) {
	rec := &memoryRecorder{}
	h, commands, responses := newHost(t, rec)
	commands.Enqueue(ipc.Request{ID: 7, Method: "echo"})
	commands.Enqueue(ipc.Request{ID: 8, Method: "missing"})
	h.Tick(context.Background())

	require.Len(t, rec.entries, 2)
	assert.Equal(t, "echo", rec.entries[0].Method)
	assert.Nil(t, rec.entries[0].ErrorCode)
	require.NotNil(t, rec.entries[1].ErrorCode)
	assert.Equal(t, ipc.CodeMethodNotFound, *rec.entries[1].ErrorCode)
	assert.Equal(t, 2, responses.Count())
}

func TestJournalFailureDoesNotAffectResponses(t *testing.T) {
	h, commands, responses := newHost(t, &memoryRecorder{fail: true})
	commands.Enqueue(ipc.Request{ID: 1, Method: "echo"})
	h.Tick(context.Background())
	resp, ok := responses.TryDequeue()
	require.True(t, ok)
	assert.Nil(t, resp.Error)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	h, commands, responses := newHost(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx, time.Millisecond) }()

	commands.Enqueue(ipc.Request{ID: 1, Method: "echo"})
	require.Eventually(t, func() bool { return responses.Count() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFrameRunsBeforeRequests(t *testing.T) {
	r := router.New(nil)
	frames := 0
	require.NoError(t, r.RegisterFunc("frames", func(context.Context, *ipc.Request) (any, error) {
		return frames, nil
	}))
	commands := queue.New[ipc.Request]()
	responses := queue.New[ipc.Response]()
	h := New(commands, responses, r, WithFrame(func(context.Context) { frames++ }))

	h.Tick(context.Background())
	commands.Enqueue(ipc.Request{ID: 1, Method: "frames"})
	h.Tick(context.Background())

	resp, ok := responses.TryDequeue()
	require.True(t, ok)
	assert.JSONEq(t, "2", string(resp.Result))
}
