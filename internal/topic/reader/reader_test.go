package reader_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ydb-platform/ydb-go-topic/internal/codec"
	"github.com/ydb-platform/ydb-go-topic/internal/errs"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/reader"
)

// fakeStream is an in-process StreamClient driving a scripted server side
// for one stream lifetime, modeled on the teacher's channel-bridge pattern
// in internal/handler/grpc/delivery.go (select over ctx.Done()/Recv()).
type fakeStream struct {
	toClient   chan *reader.ServerMessage
	fromClient chan *reader.ClientMessage
	closed     chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		toClient:   make(chan *reader.ServerMessage, 16),
		fromClient: make(chan *reader.ClientMessage, 16),
		closed:     make(chan struct{}),
	}
}

func (f *fakeStream) Send(msg *reader.ClientMessage) error {
	select {
	case f.fromClient <- msg:
		return nil
	case <-f.closed:
		return context.Canceled
	}
}

func (f *fakeStream) Recv() (*reader.ServerMessage, error) {
	select {
	case msg, ok := <-f.toClient:
		if !ok {
			return nil, context.Canceled
		}
		return msg, nil
	case <-f.closed:
		return nil, context.Canceled
	}
}

func (f *fakeStream) CloseSend() error {
	return nil
}

func newTestReader(t *testing.T, stream *fakeStream) *reader.Reader {
	t.Helper()
	return reader.New(reader.Config{
		Consumer: "test-consumer",
		Codecs:   codec.NewRegistry(),
		Dial: func(ctx context.Context) (reader.StreamClient, error) {
			return stream, nil
		},
	})
}

func TestReadYieldsSinglePartitionBatch(t *testing.T) {
	stream := newFakeStream()
	r := newTestReader(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	go func() {
		<-stream.fromClient // init
		stream.toClient <- &reader.ServerMessage{InitResponse: &reader.InitResponse{SessionID: "s1"}}
		<-stream.fromClient // initial read request
		stream.toClient <- &reader.ServerMessage{StartPartitionSessionRequest: &reader.StartPartitionSessionRequest{
			PartitionSessionID: 1,
			PartitionID:        1,
			Path:               "/local/topic",
		}}
		<-stream.fromClient // start ack
		stream.toClient <- &reader.ServerMessage{ReadResponse: &reader.ReadResponse{
			BytesSize: 10,
			PartitionData: []reader.PartitionData{{
				PartitionSessionID: 1,
				Messages: []reader.RawMessage{
					{Offset: 0, Data: []byte("hello"), CodecID: codec.RAW},
					{Offset: 1, Data: []byte("world"), CodecID: codec.RAW},
				},
			}},
		}}
	}()

	batch, err := r.Read(context.Background(), reader.ReadOptions{WaitMs: 2000})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, uint64(1), batch[0].PartitionSessionID)
	require.True(t, batch[0].Alive)
}

func TestReadTimesOutWithoutMessages(t *testing.T) {
	stream := newFakeStream()
	r := newTestReader(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	go func() {
		<-stream.fromClient
		stream.toClient <- &reader.ServerMessage{InitResponse: &reader.InitResponse{}}
		<-stream.fromClient
	}()

	batch, err := r.Read(context.Background(), reader.ReadOptions{WaitMs: 50})
	require.NoError(t, err)
	require.Empty(t, batch)
}

func TestCommitGapFillsFromNextCommitStartOffset(t *testing.T) {
	stream := newFakeStream()
	r := newTestReader(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	go func() {
		<-stream.fromClient // init
		stream.toClient <- &reader.ServerMessage{InitResponse: &reader.InitResponse{}}
		<-stream.fromClient // initial read request
		stream.toClient <- &reader.ServerMessage{StartPartitionSessionRequest: &reader.StartPartitionSessionRequest{
			PartitionSessionID: 7,
			CommittedOffset:    5,
		}}
		<-stream.fromClient // start ack
	}()

	time.Sleep(50 * time.Millisecond)

	msgs := []reader.Message{
		{PartitionSessionID: 7, Offset: 10, Alive: true},
		{PartitionSessionID: 7, Offset: 11, Alive: true},
	}
	done, err := r.Commit(msgs)
	require.NoError(t, err)

	commitMsg := <-stream.fromClient
	require.NotNil(t, commitMsg.CommitOffset)
	require.Len(t, commitMsg.CommitOffset.CommitOffsets, 1)
	entry := commitMsg.CommitOffset.CommitOffsets[0]
	require.EqualValues(t, 7, entry.PartitionSessionID)
	require.Equal(t, reader.Offset(5), entry.Offsets[0].Start)
	require.Equal(t, reader.Offset(12), entry.Offsets[0].End)

	stream.toClient <- &reader.ServerMessage{CommitOffsetResponse: &reader.CommitOffsetResponse{
		PartitionsCommittedOffsets: []reader.PartitionCommittedOffset{{PartitionSessionID: 7, CommittedOffset: 12}},
	}}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("commit never resolved")
	}
}

func TestCommitRejectsDeadMessage(t *testing.T) {
	stream := newFakeStream()
	r := newTestReader(t, stream)
	_, err := r.Commit([]reader.Message{{PartitionSessionID: 1, Offset: 1, Alive: false}})
	require.Error(t, err)
}

// Scenario 6 from spec §8: Close() on a reader with pending commits waits
// until they resolve or the graceful timeout elapses, then returns, at
// which point destroy() has rejected anything still outstanding.
func TestCloseWaitsForPendingCommitsThenRejects(t *testing.T) {
	stream := newFakeStream()
	r := reader.New(reader.Config{
		Consumer:                "test-consumer",
		GracefulShutdownTimeout: 100 * time.Millisecond,
		Dial: func(ctx context.Context) (reader.StreamClient, error) {
			return stream, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	go func() {
		<-stream.fromClient // init
		stream.toClient <- &reader.ServerMessage{InitResponse: &reader.InitResponse{}}
		<-stream.fromClient // initial read request
		stream.toClient <- &reader.ServerMessage{StartPartitionSessionRequest: &reader.StartPartitionSessionRequest{PartitionSessionID: 3}}
		<-stream.fromClient // start ack
	}()

	time.Sleep(50 * time.Millisecond)
	done, err := r.Commit([]reader.Message{{PartitionSessionID: 3, Offset: 0, Alive: true}})
	require.NoError(t, err)
	<-stream.fromClient // commit request, never acked

	start := time.Now()
	r.Close()
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("pending commit was never rejected")
	}
}

// Spec §7: Terminal-class server errors (schema, not-found,
// precondition-failed, unauthorized, unauthenticated, internal) must be
// surfaced, never retried, unlike RetryableTransient/ConditionallyRetryable.
func TestTerminalServerErrorIsNotRetried(t *testing.T) {
	stream := newFakeStream()
	var dialCount int32
	r := reader.New(reader.Config{
		Consumer: "test-consumer",
		Codecs:   codec.NewRegistry(),
		Dial: func(ctx context.Context) (reader.StreamClient, error) {
			atomic.AddInt32(&dialCount, 1)
			return stream, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	<-stream.fromClient // init
	stream.toClient <- &reader.ServerMessage{
		Status: reader.StatusError,
		Code:   errs.CodeUnauthorized,
		Issues: []errs.Issue{{Severity: errs.SeverityFatal, Message: "permission denied"}},
	}

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&dialCount), "terminal error must not trigger a reconnect")
}
