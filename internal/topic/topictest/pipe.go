// Package topictest provides an in-process fake StreamRead/StreamWrite
// server for exercising internal/topic/reader and internal/topic/writer
// without a real YDB cluster or generated RPC stubs (both out of scope per
// spec §1), grounded on the teacher's channel-bridge select loop in
// internal/handler/grpc/delivery.go.
package topictest

import "context"

// Pipe is a generic two-channel stream: Out is the message type the
// consumer sends, In is the message type it receives. Instantiated with
// reader.Client/ServerMessage or writer.Client/ServerMessage it satisfies
// the respective package's StreamClient interface.
type Pipe[Out, In any] struct {
	out    chan Out
	in     chan In
	closed chan struct{}
}

// NewPipe creates a Pipe with the given channel buffer size.
func NewPipe[Out, In any](buf int) *Pipe[Out, In] {
	return &Pipe[Out, In]{
		out:    make(chan Out, buf),
		in:     make(chan In, buf),
		closed: make(chan struct{}),
	}
}

func (p *Pipe[Out, In]) Send(v Out) error {
	select {
	case p.out <- v:
		return nil
	case <-p.closed:
		return context.Canceled
	}
}

func (p *Pipe[Out, In]) Recv() (In, error) {
	var zero In
	select {
	case v, ok := <-p.in:
		if !ok {
			return zero, context.Canceled
		}
		return v, nil
	case <-p.closed:
		return zero, context.Canceled
	}
}

func (p *Pipe[Out, In]) CloseSend() error { return nil }

// Close unblocks any pending Send/Recv with context.Canceled.
func (p *Pipe[Out, In]) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
}

// ServerSide returns the broker-facing view of the pipe: the broker reads
// what the consumer sent with Recv (type Out) and replies with Send (type In).
func (p *Pipe[Out, In]) ServerSide() *ServerPipe[Out, In] {
	return &ServerPipe[Out, In]{p: p}
}

// ServerPipe is the broker-side handle of a Pipe, with Send/Recv directions
// reversed relative to the client-facing Pipe.
type ServerPipe[Out, In any] struct {
	p *Pipe[Out, In]
}

func (s *ServerPipe[Out, In]) Recv() (Out, error) {
	var zero Out
	select {
	case v, ok := <-s.p.out:
		if !ok {
			return zero, context.Canceled
		}
		return v, nil
	case <-s.p.closed:
		return zero, context.Canceled
	}
}

func (s *ServerPipe[Out, In]) Send(v In) error {
	select {
	case s.p.in <- v:
		return nil
	case <-s.p.closed:
		return context.Canceled
	}
}
