// Package reader implements the topic reader of spec §4.5: a bidirectional
// StreamRead session with partition session tracking, credit-based flow
// control, and commit bookkeeping. Generated StreamRead stubs are out of
// scope (spec §1); StreamClient is the collaborator boundary a real
// generated client satisfies.
package reader

import (
	"context"
	"time"

	"github.com/ydb-platform/ydb-go-topic/internal/codec"
	"github.com/ydb-platform/ydb-go-topic/internal/errs"
	"github.com/ydb-platform/ydb-go-topic/internal/value"
)

// Offset is a partition offset (spec §3).
type Offset int64

// Status mirrors the coarse status carried by every server frame (spec §7).
type Status int32

const (
	StatusSuccess Status = iota
	StatusError
)

// InitRequest opens a read session for one or more topics under one
// consumer.
type InitRequest struct {
	Consumer    string
	Topics      []TopicReadSettings
	AutoPartitioningSupport bool
}

// TopicReadSettings describes one topic's subscription within an init
// request (spec §6's reader "topic" entries).
type TopicReadSettings struct {
	Path          string
	PartitionIDs  []uint64
	MaxLag        time.Duration
	ReadFrom      time.Time
}

// InitResponse acknowledges session establishment.
type InitResponse struct {
	SessionID string
}

// ReadRequest opens additional credit on the stream.
type ReadRequest struct {
	BytesSize int
}

// PartitionData is one partition's worth of raw messages within a
// ReadResponse.
type PartitionData struct {
	PartitionSessionID uint64
	Messages           []RawMessage
}

// RawMessage is an undecoded wire message.
type RawMessage struct {
	Offset     Offset
	ProducerID string
	CodecID    codec.ID
	Data       []byte
	CreatedAt  time.Time
	Metadata   map[string]value.Value
}

// ReadResponse delivers buffered data for one or more partitions.
type ReadResponse struct {
	BytesSize      int
	PartitionData  []PartitionData
}

// StartPartitionSessionRequest asks the client to begin consuming a
// partition.
type StartPartitionSessionRequest struct {
	PartitionSessionID uint64
	PartitionID        uint64
	Path               string
	CommittedOffset    Offset
	PartitionOffsets   struct{ Start, End Offset }
}

// StartPartitionSessionResponse replies with optional offset overrides.
type StartPartitionSessionResponse struct {
	PartitionSessionID uint64
	ReadOffset         *Offset
	CommitOffset       *Offset
}

// StopPartitionSessionRequest asks the client to stop consuming a
// partition, gracefully or not.
type StopPartitionSessionRequest struct {
	PartitionSessionID uint64
	Graceful           bool
}

// StopPartitionSessionResponse acknowledges a graceful stop.
type StopPartitionSessionResponse struct {
	PartitionSessionID uint64
}

// EndPartitionSession marks a partition session as having no further
// messages.
type EndPartitionSession struct {
	PartitionSessionID uint64
}

// CommitOffsetEntry is one touched session's new watermark.
type CommitOffsetEntry struct {
	PartitionSessionID uint64
	Offsets            []OffsetRange
}

// OffsetRange is a half-open offset interval [Start, End).
type OffsetRange struct {
	Start, End Offset
}

// CommitOffsetRequest asks the server to durably advance a consumer's
// position.
type CommitOffsetRequest struct {
	CommitOffsets []CommitOffsetEntry
}

// CommitOffsetResponse reports the committed watermark per session.
type CommitOffsetResponse struct {
	PartitionsCommittedOffsets []PartitionCommittedOffset
}

// PartitionCommittedOffset is one entry of a CommitOffsetResponse.
type PartitionCommittedOffset struct {
	PartitionSessionID uint64
	CommittedOffset    Offset
}

// ClientMessage is the oneof-style outgoing frame (spec §4.5's outgoing
// async priority queue carries exactly these cases).
type ClientMessage struct {
	Init                   *InitRequest
	Read                   *ReadRequest
	CommitOffset           *CommitOffsetRequest
	StartPartitionSessionResponse *StartPartitionSessionResponse
	StopPartitionSessionResponse  *StopPartitionSessionResponse
}

// ServerMessage is the oneof-style incoming frame. Code classifies a
// non-success Status per spec §7; Issues is the nested issue chain rendered
// into the surfaced error's message.
type ServerMessage struct {
	Status Status
	Code   errs.Code
	Issues []errs.Issue

	InitResponse                 *InitResponse
	ReadResponse                 *ReadResponse
	CommitOffsetResponse         *CommitOffsetResponse
	StartPartitionSessionRequest *StartPartitionSessionRequest
	StopPartitionSessionRequest  *StopPartitionSessionRequest
	EndPartitionSession          *EndPartitionSession
}

// StreamClient is the bidirectional StreamRead collaborator; a generated
// gRPC client stub satisfies it in production, a fake satisfies it in
// tests.
type StreamClient interface {
	Send(*ClientMessage) error
	Recv() (*ServerMessage, error)
	CloseSend() error
}

// Dialer opens a fresh StreamRead stream, honoring discovery/pool
// preferences internally.
type Dialer func(ctx context.Context) (StreamClient, error)

// Message is a decoded, consumer-visible unit (spec §4.5's TopicMessage).
type Message struct {
	PartitionSessionID uint64
	Offset             Offset
	ProducerID         string
	Data               []byte
	CreatedAt          time.Time
	Alive              bool
	Metadata           map[string]value.Value

	uncompressedSize int
}

// Callbacks are the optional reader hooks of spec §6.
type Callbacks struct {
	OnPartitionSessionStart func(s *PartitionSession, committedOffset Offset, start, end Offset) (readOffset, commitOffset *Offset)
	OnPartitionSessionStop  func(s *PartitionSession, committedOffset Offset)
	OnCommittedOffset       func(s *PartitionSession, committedOffset Offset)
}
