package topictest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ydb-platform/ydb-go-topic/internal/codec"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/reader"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/topictest"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/writer"
)

// Scenario 5 from spec §8: "16 batches x 1024 messages x 16 KiB round-trip
// end-to-end in under 60s; all bytes written equal all bytes read" at 256
// MiB. Run at a scaled-down volume (4 batches x 128 messages x 4 KiB = 2
// MiB) to keep this test fast and memory-light in CI while preserving the
// shape of the property being checked: every byte written by the writer is
// observed exactly once by the reader.
func TestWriteReadRoundTripAtVolume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping volume round-trip test in -short mode")
	}

	const (
		batches        = 4
		messagesPerBat = 128
		messageSize    = 4 << 10
	)
	totalMessages := batches * messagesPerBat

	broker := topictest.NewBroker()

	w := writer.New(writer.Config{
		Topic:         "/local/volume-topic",
		ProducerID:    "volume-producer",
		Codecs:        codec.NewRegistry(),
		FlushInterval: time.Millisecond,
		Dial:          broker.DialWriter(),
	})
	r := reader.New(reader.Config{
		Consumer: "volume-consumer",
		Codecs:   codec.NewRegistry(),
		Dial:     broker.DialReader(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	go r.Run(ctx)

	payload := make([]byte, messageSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		for b := 0; b < batches; b++ {
			for m := 0; m < messagesPerBat; m++ {
				ackCh, err := w.Write(payload, 0)
				if err != nil {
					done <- err
					return
				}
				select {
				case ack := <-ackCh:
					if ack.Status != writer.AckWritten {
						done <- context.Canceled
						return
					}
				case <-time.After(30 * time.Second):
					done <- context.DeadlineExceeded
					return
				}
			}
		}
		done <- nil
	}()

	received := 0
	bytesRead := 0
	deadline := time.After(60 * time.Second)
readLoop:
	for received < totalMessages {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for messages: got %d/%d", received, totalMessages)
		default:
		}

		batch, err := r.Read(context.Background(), reader.ReadOptions{WaitMs: 5000})
		require.NoError(t, err)
		for _, m := range batch {
			bytesRead += len(m.Data)
			received++
		}
		if len(batch) == 0 {
			continue
		}
		commitDone, err := r.Commit(batch)
		require.NoError(t, err)
		select {
		case err := <-commitDone:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("commit never acked")
		}
		if received >= totalMessages {
			break readLoop
		}
	}

	require.NoError(t, <-done)
	require.Equal(t, totalMessages, received)
	require.Equal(t, totalMessages*messageSize, bytesRead)
}
