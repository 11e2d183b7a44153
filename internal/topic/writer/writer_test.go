package writer_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ydb-platform/ydb-go-topic/internal/codec"
	"github.com/ydb-platform/ydb-go-topic/internal/errs"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/writer"
	"github.com/ydb-platform/ydb-go-topic/internal/value"
)

type fakeStream struct {
	toClient   chan *writer.ServerMessage
	fromClient chan *writer.ClientMessage
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		toClient:   make(chan *writer.ServerMessage, 16),
		fromClient: make(chan *writer.ClientMessage, 16),
	}
}

func (f *fakeStream) Send(msg *writer.ClientMessage) error {
	f.fromClient <- msg
	return nil
}

func (f *fakeStream) Recv() (*writer.ServerMessage, error) {
	msg, ok := <-f.toClient
	if !ok {
		return nil, context.Canceled
	}
	return msg, nil
}

func (f *fakeStream) CloseSend() error { return nil }

func newTestWriter(t *testing.T, stream *fakeStream) *writer.Writer {
	t.Helper()
	return writer.New(writer.Config{
		Topic:      "/local/topic",
		ProducerID: "producer-1",
		Codecs:     codec.NewRegistry(),
		FlushInterval: 5 * time.Millisecond,
		Dial: func(ctx context.Context) (writer.StreamClient, error) {
			return stream, nil
		},
	})
}

func TestWriteAutoAssignsSeqNoAndResolvesOnAck(t *testing.T) {
	stream := newFakeStream()
	w := newTestWriter(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	go func() {
		<-stream.fromClient // init
		stream.toClient <- &writer.ServerMessage{InitResponse: &writer.InitResponse{SessionID: "s1"}}
	}()

	done, err := w.Write([]byte("hello"), 0)
	require.NoError(t, err)

	writeMsg := <-stream.fromClient
	require.NotNil(t, writeMsg.Write)
	require.Len(t, writeMsg.Write.Messages, 1)
	seqNo := writeMsg.Write.Messages[0].SeqNo
	require.EqualValues(t, 1, seqNo)

	stream.toClient <- &writer.ServerMessage{WriteResponse: &writer.WriteResponse{
		Acks: []writer.Ack{{SeqNo: seqNo, Status: writer.AckWritten, Offset: 42}},
	}}

	select {
	case ack := <-done:
		require.Equal(t, writer.AckWritten, ack.Status)
		require.EqualValues(t, 42, ack.Offset)
	case <-time.After(time.Second):
		t.Fatal("write never acked")
	}
}

func TestManualSeqNoMustIncreaseStrictly(t *testing.T) {
	stream := newFakeStream()
	w := newTestWriter(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	go func() {
		<-stream.fromClient
		stream.toClient <- &writer.ServerMessage{InitResponse: &writer.InitResponse{}}
	}()

	_, err := w.Write([]byte("a"), 5)
	require.NoError(t, err)
	<-stream.fromClient

	_, err = w.Write([]byte("b"), 5)
	require.Error(t, err)
}

func TestMixingAutoAndManualModeFails(t *testing.T) {
	stream := newFakeStream()
	w := newTestWriter(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	go func() {
		<-stream.fromClient
		stream.toClient <- &writer.ServerMessage{InitResponse: &writer.InitResponse{}}
	}()

	_, err := w.Write([]byte("a"), 0)
	require.NoError(t, err)
	<-stream.fromClient

	_, err = w.Write([]byte("b"), 100)
	require.Error(t, err)
}

func TestPayloadTooLargeRejectedSynchronously(t *testing.T) {
	stream := newFakeStream()
	w := newTestWriter(t, stream)
	big := make([]byte, 49<<20)
	_, err := w.Write(big, 0)
	require.Error(t, err)
}

// Scenario 3 from spec §8: a fresh auto-mode writer assigns seqNo 1 then 2.
func TestAutoSeqNoAssignsSequentially(t *testing.T) {
	stream := newFakeStream()
	w := newTestWriter(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	go func() {
		<-stream.fromClient // init
		stream.toClient <- &writer.ServerMessage{InitResponse: &writer.InitResponse{}}
	}()

	_, err := w.Write([]byte("a"), 0)
	require.NoError(t, err)
	msg1 := <-stream.fromClient
	require.EqualValues(t, 1, msg1.Write.Messages[0].SeqNo)

	_, err = w.Write([]byte("b"), 0)
	require.NoError(t, err)
	msg2 := <-stream.fromClient
	require.EqualValues(t, 2, msg2.Write.Messages[0].SeqNo)
}

// Scenario 3 from spec §8: after InitResponse{lastSeqNo:42} arrives before
// any write, the next write sends seqNo 43.
func TestAutoSeqNoRecoversFromLastSeqNo(t *testing.T) {
	stream := newFakeStream()
	w := newTestWriter(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	go func() {
		<-stream.fromClient // init
	}()
	stream.toClient <- &writer.ServerMessage{InitResponse: &writer.InitResponse{LastSeqNo: 42}}
	time.Sleep(20 * time.Millisecond)

	_, err := w.Write([]byte("c"), 0)
	require.NoError(t, err)
	msg := <-stream.fromClient
	require.EqualValues(t, 43, msg.Write.Messages[0].SeqNo)
}

func TestWriteWithMetadataCarriesValuesThrough(t *testing.T) {
	stream := newFakeStream()
	w := newTestWriter(t, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	go func() {
		<-stream.fromClient // init
	}()

	meta := map[string]value.Value{"trace_id": value.Text("abc123")}
	_, err := w.WriteWithMetadata([]byte("hello"), 0, meta)
	require.NoError(t, err)

	msg := <-stream.fromClient
	require.Len(t, msg.Write.Messages, 1)
	require.Equal(t, "abc123", msg.Write.Messages[0].Metadata["trace_id"].Text())
}

// Spec §7: Terminal-class server errors must be surfaced, never retried.
func TestTerminalServerErrorIsNotRetried(t *testing.T) {
	stream := newFakeStream()
	var dialCount int32
	w := writer.New(writer.Config{
		Topic:         "/local/topic",
		ProducerID:    "producer-1",
		Codecs:        codec.NewRegistry(),
		FlushInterval: 5 * time.Millisecond,
		Dial: func(ctx context.Context) (writer.StreamClient, error) {
			atomic.AddInt32(&dialCount, 1)
			return stream, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	<-stream.fromClient // init
	stream.toClient <- &writer.ServerMessage{
		Status: 1,
		Code:   errs.CodeUnauthorized,
		Issues: []errs.Issue{{Severity: errs.SeverityFatal, Message: "permission denied"}},
	}

	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&dialCount), "terminal error must not trigger a reconnect")
}
