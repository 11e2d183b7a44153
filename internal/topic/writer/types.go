// Package writer implements the topic writer of spec §4.6: a bidirectional
// StreamWrite session with a sliding-window buffer, seqno management, and
// ack-driven garbage collection. Generated StreamWrite stubs are out of
// scope (spec §1); StreamClient is the collaborator boundary a real
// generated client satisfies.
package writer

import (
	"context"
	"time"

	"github.com/ydb-platform/ydb-go-topic/internal/codec"
	"github.com/ydb-platform/ydb-go-topic/internal/errs"
	"github.com/ydb-platform/ydb-go-topic/internal/value"
)

// AckStatus is the per-message outcome carried by a WriteResponse.
type AckStatus int32

const (
	AckWritten AckStatus = iota
	AckSkipped
	AckWrittenInTx
)

// InitRequest opens a write session for one producer.
type InitRequest struct {
	Topic          string
	ProducerID     string
	PartitionID    *uint64
	MessageGroupID string
}

// InitResponse acknowledges session establishment, carrying the producer's
// last known seqno for Auto-mode recovery.
type InitResponse struct {
	SessionID       string
	LastSeqNo       int64
	SupportedCodecs []codec.ID
}

// OutgoingMessage is one message queued for send within a WriteRequest.
type OutgoingMessage struct {
	SeqNo     int64
	CodecID   codec.ID
	Data      []byte
	CreatedAt time.Time
	// Metadata carries caller-supplied extra fields (spec §9's Value tagged
	// union), e.g. application headers riding alongside the payload.
	Metadata map[string]value.Value
}

// WriteRequest carries a batch moved from buffered into inflight.
type WriteRequest struct {
	Messages []OutgoingMessage
}

// Ack is one message's outcome within a WriteResponse.
type Ack struct {
	SeqNo       int64
	Status      AckStatus
	Offset      int64
	PartitionID uint64
}

// WriteResponse delivers acks for previously sent messages.
type WriteResponse struct {
	Acks []Ack
}

// ClientMessage is the oneof-style outgoing frame.
type ClientMessage struct {
	Init  *InitRequest
	Write *WriteRequest
}

// ServerMessage is the oneof-style incoming frame. Status is zero on
// success; a non-zero Status classifies into Code/Issues per spec §7.
type ServerMessage struct {
	Status int32
	Code   errs.Code
	Issues []errs.Issue

	InitResponse  *InitResponse
	WriteResponse *WriteResponse
}

// StreamClient is the bidirectional StreamWrite collaborator; a generated
// gRPC client stub satisfies it in production, a fake satisfies it in
// tests.
type StreamClient interface {
	Send(*ClientMessage) error
	Recv() (*ServerMessage, error)
	CloseSend() error
}

// Dialer opens a fresh StreamWrite stream.
type Dialer func(ctx context.Context) (StreamClient, error)
