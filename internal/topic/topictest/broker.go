package topictest

import (
	"context"
	"sync"

	"github.com/ydb-platform/ydb-go-topic/internal/topic/reader"
	"github.com/ydb-platform/ydb-go-topic/internal/topic/writer"
)

// Broker is a single-partition fake StreamRead/StreamWrite server: it
// assigns offsets to whatever a writer sends, and fans incoming writes out
// to every connected reader, acking commits immediately. It exists to drive
// scenario 5 of spec §8 (write/read round-trip at volume) without a real
// cluster or generated stubs.
type Broker struct {
	mu       sync.Mutex
	offset   reader.Offset
	lastSeen int64

	subs []chan reader.RawMessage
}

// NewBroker returns an empty single-partition broker.
func NewBroker() *Broker {
	return &Broker{}
}

// DialWriter returns a writer.Dialer bound to this broker.
func (b *Broker) DialWriter() writer.Dialer {
	return func(ctx context.Context) (writer.StreamClient, error) {
		p := NewPipe[*writer.ClientMessage, *writer.ServerMessage](256)
		go b.serveWriter(p.ServerSide())
		return p, nil
	}
}

// DialReader returns a reader.Dialer bound to this broker; every dial gets
// its own subscription to future writes, replaying nothing already
// published before it connected (this fake server has no retention log).
func (b *Broker) DialReader() reader.Dialer {
	return func(ctx context.Context) (reader.StreamClient, error) {
		p := NewPipe[*reader.ClientMessage, *reader.ServerMessage](256)
		go b.serveReader(p.ServerSide())
		return p, nil
	}
}

func (b *Broker) serveWriter(s *ServerPipe[*writer.ClientMessage, *writer.ServerMessage]) {
	for {
		msg, err := s.Recv()
		if err != nil {
			return
		}
		switch {
		case msg.Init != nil:
			if err := s.Send(&writer.ServerMessage{InitResponse: &writer.InitResponse{
				SessionID: "topictest-writer",
				LastSeqNo: b.currentLastSeqNo(),
			}}); err != nil {
				return
			}
		case msg.Write != nil:
			acks := make([]writer.Ack, 0, len(msg.Write.Messages))
			for _, m := range msg.Write.Messages {
				off := b.publish(m)
				acks = append(acks, writer.Ack{SeqNo: m.SeqNo, Status: writer.AckWritten, Offset: int64(off)})
				b.setLastSeqNo(m.SeqNo)
			}
			if err := s.Send(&writer.ServerMessage{WriteResponse: &writer.WriteResponse{Acks: acks}}); err != nil {
				return
			}
		}
	}
}

// serveReader runs two loops concurrently: one relays published messages to
// the client as they arrive on its subscription, the other handles the
// client's outbound control messages (commits). A single select-with-default
// loop would starve one direction whenever the other went quiet, so the
// directions get independent goroutines instead.
func (b *Broker) serveReader(s *ServerPipe[*reader.ClientMessage, *reader.ServerMessage]) {
	const partitionSessionID = uint64(1)

	msg, err := s.Recv() // Init
	if err != nil || msg.Init == nil {
		return
	}
	if err := s.Send(&reader.ServerMessage{InitResponse: &reader.InitResponse{SessionID: "topictest-reader"}}); err != nil {
		return
	}

	sub := b.subscribe()
	defer b.unsubscribe(sub)

	done := make(chan struct{})
	defer close(done)

	go func() {
		var started sync.Once
		for {
			select {
			case raw, ok := <-sub:
				if !ok {
					return
				}
				started.Do(func() {
					_ = s.Send(&reader.ServerMessage{StartPartitionSessionRequest: &reader.StartPartitionSessionRequest{
						PartitionSessionID: partitionSessionID,
					}})
				})
				if err := s.Send(&reader.ServerMessage{ReadResponse: &reader.ReadResponse{
					BytesSize:     len(raw.Data),
					PartitionData: []reader.PartitionData{{PartitionSessionID: partitionSessionID, Messages: []reader.RawMessage{raw}}},
				}}); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		clientMsg, err := s.Recv()
		if err != nil {
			return
		}
		if clientMsg.CommitOffset != nil {
			resp := make([]reader.PartitionCommittedOffset, 0, len(clientMsg.CommitOffset.CommitOffsets))
			for _, entry := range clientMsg.CommitOffset.CommitOffsets {
				var maxEnd reader.Offset
				for _, rg := range entry.Offsets {
					if rg.End > maxEnd {
						maxEnd = rg.End
					}
				}
				resp = append(resp, reader.PartitionCommittedOffset{PartitionSessionID: entry.PartitionSessionID, CommittedOffset: maxEnd})
			}
			if err := s.Send(&reader.ServerMessage{CommitOffsetResponse: &reader.CommitOffsetResponse{PartitionsCommittedOffsets: resp}}); err != nil {
				return
			}
		}
	}
}

func (b *Broker) publish(m writer.OutgoingMessage) reader.Offset {
	b.mu.Lock()
	off := b.offset
	b.offset++
	subs := append([]chan reader.RawMessage(nil), b.subs...)
	b.mu.Unlock()

	raw := reader.RawMessage{Offset: off, CodecID: m.CodecID, Data: m.Data, CreatedAt: m.CreatedAt}
	for _, sub := range subs {
		sub <- raw
	}
	return off
}

func (b *Broker) subscribe() chan reader.RawMessage {
	ch := make(chan reader.RawMessage, 1024)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(ch chan reader.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.subs {
		if c == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *Broker) currentLastSeqNo() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeen
}

func (b *Broker) setLastSeqNo(seqNo int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seqNo > b.lastSeen {
		b.lastSeen = seqNo
	}
}
