package writer

import (
	"context"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/oklog/ulid"

	"github.com/ydb-platform/ydb-go-topic/internal/codec"
	"github.com/ydb-platform/ydb-go-topic/internal/errs"
	"github.com/ydb-platform/ydb-go-topic/internal/obs"
	"github.com/ydb-platform/ydb-go-topic/internal/queue"
	"github.com/ydb-platform/ydb-go-topic/internal/retry"
	"github.com/ydb-platform/ydb-go-topic/internal/value"
)

const (
	defaultMaxBufferBytes    = 256 << 20
	defaultMaxInflightCount  = 1000
	defaultFlushInterval     = 10 * time.Millisecond
	defaultGracefulWait      = 30 * time.Second
	defaultMaxGarbageCount   = 1000
	defaultMaxGarbageSize    = 64 << 20
	defaultMinRawSize        = 128
	maxPayloadSize           = 48 << 20
)

// GarbageCollection controls compaction of the sliding window array (spec
// §4.6).
type GarbageCollection struct {
	MaxGarbageCount int
	MaxGarbageSize  int
	ForceGC         bool
}

// Config configures a Writer (spec §6's writer configuration keys).
type Config struct {
	Topic          string
	ProducerID     string
	PartitionID    *uint64
	MessageGroupID string

	Codec          codec.ID
	Codecs         *codec.Registry
	MinRawSize     int
	MaxBufferBytes int
	MaxInflight    int

	FlushInterval           time.Duration
	GracefulShutdownTimeout time.Duration
	GarbageCollection       GarbageCollection

	Dial         Dialer
	Logger       *slog.Logger
	RetryOptions retry.Options
	Metrics      *obs.TopicMetrics
}

type slot struct {
	seqNo    int64
	data     []byte
	codecID  codec.ID
	size     int
	acked    bool
	done     chan Ack
	metadata map[string]value.Value
}

// Writer is the spec §4.6 topic writer: one bidirectional StreamWrite
// session, transparently reconnected, implementing the sliding-window
// buffered/inflight/garbage accounting and seqno management.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	seqno  seqNoManager

	outgoing *queue.Queue

	mu             sync.Mutex
	messages       []*slot
	bySeq          map[int64]*slot
	start          int
	bufferLength   int
	inflightLength int
	bufferSize     int
	inflightSize   int
	garbageCount   int
	garbageSize    int
	closed         bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Writer; call Run to start the stream loop.
func New(cfg Config) *Writer {
	if cfg.Codecs == nil {
		cfg.Codecs = codec.NewRegistry()
	}
	if cfg.MaxBufferBytes == 0 {
		cfg.MaxBufferBytes = defaultMaxBufferBytes
	}
	if cfg.MaxInflight == 0 {
		cfg.MaxInflight = defaultMaxInflightCount
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.GracefulShutdownTimeout == 0 {
		cfg.GracefulShutdownTimeout = defaultGracefulWait
	}
	if cfg.GarbageCollection.MaxGarbageCount == 0 {
		cfg.GarbageCollection.MaxGarbageCount = defaultMaxGarbageCount
	}
	if cfg.GarbageCollection.MaxGarbageSize == 0 {
		cfg.GarbageCollection.MaxGarbageSize = defaultMaxGarbageSize
	}
	if cfg.MinRawSize == 0 {
		cfg.MinRawSize = defaultMinRawSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = obs.NoopTopicMetrics()
	}
	if cfg.ProducerID == "" {
		cfg.ProducerID = ulid.MustNew(ulid.Now(), rand.New(rand.NewSource(ulid.Now()))).String()
	}
	if cfg.RetryOptions.Strategy == nil {
		cfg.RetryOptions = retry.Options{
			Predicate:  retry.DefaultPredicate,
			Budget:     -1,
			Strategy:   retry.Jittered(retry.CappedExponential(200*time.Millisecond, 30*time.Second)),
			Idempotent: false,
		}
	}

	return &Writer{
		cfg:      cfg,
		logger:   cfg.Logger.With(slog.String("component", "topic.writer"), slog.String("topic", cfg.Topic), slog.String("producer_id", cfg.ProducerID)),
		outgoing: queue.New(),
		bySeq:    map[int64]*slot{},
	}
}

// Run drives the connect/init/run/reconnect loop until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.flushTicker(runCtx)
	}()

	for runCtx.Err() == nil {
		err := w.runOnce(runCtx)
		if err == nil {
			continue
		}
		var e *errs.Error
		if errs.As(err, &e) && e.Retryable(false) {
			w.logger.Warn("stream error, reconnecting", "err", err)
			w.cfg.Metrics.ReconnectCount.Add(context.Background(), 1)
			w.rollbackInflight()
			continue
		}
		w.logger.Error("stream terminated", "err", err)
		w.destroy(err)
		return
	}
	w.destroy(errs.Destroyed("context cancelled"))
}

func (w *Writer) flushTicker(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Writer) runOnce(ctx context.Context) error {
	stream, err := retry.Do(ctx, w.cfg.RetryOptions, func(ctx context.Context) (StreamClient, error) {
		return w.cfg.Dial(ctx)
	})
	if err != nil {
		return err
	}

	if err := stream.Send(&ClientMessage{Init: &InitRequest{
		Topic:          w.cfg.Topic,
		ProducerID:     w.cfg.ProducerID,
		PartitionID:    w.cfg.PartitionID,
		MessageGroupID: w.cfg.MessageGroupID,
	}}); err != nil {
		return err
	}

	sendDone := make(chan struct{})
	go w.sendLoop(ctx, stream, sendDone)
	defer func() {
		_ = stream.CloseSend()
		<-sendDone
	}()

	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		switch {
		case msg.Status != 0:
			return errs.FromServerMessage(msg.Code, msg.Issues)
		case msg.InitResponse != nil:
			w.seqno.adoptLastSeqNo(msg.InitResponse.LastSeqNo)
			w.rollbackInflight()
			w.logger.Info("write session initialized", "session_id", msg.InitResponse.SessionID)
			w.flush()
		case msg.WriteResponse != nil:
			w.handleAcks(msg.WriteResponse.Acks)
		}
	}
}

func (w *Writer) sendLoop(ctx context.Context, stream StreamClient, done chan struct{}) {
	defer close(done)
	for {
		v, ok := w.outgoing.Pop()
		if !ok {
			return
		}
		if err := stream.Send(v.(*ClientMessage)); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Write synchronously enqueues payload for send and returns a completion
// resolved once the server acknowledges the assigned seqno (spec §4.6 step
// 2). explicitSeqNo of 0 means Auto mode; a non-zero value means Manual.
func (w *Writer) Write(payload []byte, explicitSeqNo int64) (<-chan Ack, error) {
	return w.WriteWithMetadata(payload, explicitSeqNo, nil)
}

// WriteWithMetadata is Write plus caller-supplied extra fields (spec §9's
// Value tagged union), carried alongside the payload to the server.
func (w *Writer) WriteWithMetadata(payload []byte, explicitSeqNo int64, metadata map[string]value.Value) (<-chan Ack, error) {
	if len(payload) > maxPayloadSize {
		return nil, errs.PayloadTooLarge(len(payload), maxPayloadSize)
	}

	data := payload
	codecID := codec.RAW
	if len(payload) >= w.cfg.MinRawSize {
		compressed, err := w.cfg.Codecs.Compress(w.cfg.Codec, payload)
		if err == nil {
			data = compressed
			codecID = w.cfg.Codec
		}
	}

	seqNo, err := w.seqno.next(explicitSeqNo)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.bufferSize+len(data) > w.cfg.MaxBufferBytes {
		w.mu.Unlock()
		w.flush()
		w.mu.Lock()
	}

	s := &slot{seqNo: seqNo, data: data, codecID: codecID, size: len(data), done: make(chan Ack, 1), metadata: metadata}
	w.messages = append(w.messages, s)
	w.bySeq[seqNo] = s
	w.bufferLength++
	w.bufferSize += s.size
	w.mu.Unlock()

	w.cfg.Metrics.BufferOccupancy.Add(context.Background(), int64(s.size))
	w.flush()
	return s.done, nil
}

// Ack is the consumer-visible outcome of one Write.
type Ack struct {
	SeqNo       int64
	Status      AckStatus
	Offset      int64
	PartitionID uint64
}

// flush moves as many buffered-not-yet-inflight entries as maxInflight
// allows into the inflight window and sends them (spec §4.6 step 3).
func (w *Writer) flush() {
	w.mu.Lock()
	avail := w.bufferLength - w.inflightLength
	room := w.cfg.MaxInflight - w.inflightLength
	if avail <= 0 || room <= 0 {
		w.mu.Unlock()
		return
	}
	n := avail
	if n > room {
		n = room
	}

	batchStart := w.start + w.inflightLength
	batch := w.messages[batchStart : batchStart+n]
	req := &WriteRequest{Messages: make([]OutgoingMessage, 0, n)}
	for _, s := range batch {
		req.Messages = append(req.Messages, OutgoingMessage{SeqNo: s.seqNo, CodecID: s.codecID, Data: s.data, CreatedAt: time.Now(), Metadata: s.metadata})
		w.inflightSize += s.size
	}
	w.inflightLength += n
	w.mu.Unlock()

	w.cfg.Metrics.InflightCount.Add(context.Background(), int64(n))
	w.outgoing.Push(&ClientMessage{Write: req}, 0)
}

// handleAcks resolves acked seqnos, slides the inflight/buffered window
// forward over contiguous acked entries, and compacts when garbage
// thresholds are exceeded (spec §4.6 step 4).
func (w *Writer) handleAcks(acks []Ack) {
	w.mu.Lock()
	for _, a := range acks {
		s, ok := w.bySeq[a.SeqNo]
		if !ok {
			continue
		}
		s.acked = true
		delete(w.bySeq, a.SeqNo)
		select {
		case s.done <- a:
		default:
		}
	}

	freedCount, freedBytes := 0, 0
	for w.inflightLength > 0 && w.messages[w.start].acked {
		freed := w.messages[w.start]
		w.garbageSize += freed.size
		w.garbageCount++
		w.inflightSize -= freed.size
		w.bufferSize -= freed.size
		w.start++
		w.bufferLength--
		w.inflightLength--
		freedCount++
		freedBytes += freed.size
	}

	if w.garbageCount >= w.cfg.GarbageCollection.MaxGarbageCount || w.garbageSize >= w.cfg.GarbageCollection.MaxGarbageSize {
		w.messages = append([]*slot(nil), w.messages[w.start:]...)
		w.start = 0
		w.garbageCount = 0
		w.garbageSize = 0
		if w.cfg.GarbageCollection.ForceGC {
			runtime.GC()
		}
	}
	w.mu.Unlock()

	if freedCount > 0 {
		ctx := context.Background()
		w.cfg.Metrics.InflightCount.Add(ctx, -int64(freedCount))
		w.cfg.Metrics.BufferOccupancy.Add(ctx, -int64(freedBytes))
	}
}

// rollbackInflight returns every inflight entry to buffered-unsent state,
// to be resent with original seqnos on the next flush (spec §4.6 step 5).
func (w *Writer) rollbackInflight() {
	w.mu.Lock()
	n := w.inflightLength
	w.inflightLength = 0
	w.inflightSize = 0
	w.mu.Unlock()
	if n > 0 {
		w.cfg.Metrics.InflightCount.Add(context.Background(), -int64(n))
	}
}

func (w *Writer) destroy(reason error) {
	w.mu.Lock()
	w.closed = true
	pending := w.bySeq
	w.bySeq = map[int64]*slot{}
	w.mu.Unlock()

	w.logger.Warn("writer destroyed, rejecting pending acks", "err", reason, "pending", len(pending))
	for _, s := range pending {
		select {
		case s.done <- Ack{SeqNo: s.seqNo, Status: AckSkipped}:
		default:
		}
	}
	w.outgoing.Close()
}

// Stats is a point-in-time snapshot for operational monitoring;
// cmd/ydbtopic-top polls it on a tick.
type Stats struct {
	BufferedCount  int
	InflightCount  int
	BufferedBytes  int
	InflightBytes  int
	GarbageCount   int
}

// Stats returns a snapshot of the writer's current buffer/window state.
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		BufferedCount: w.bufferLength,
		InflightCount: w.inflightLength,
		BufferedBytes: w.bufferSize,
		InflightBytes: w.inflightSize,
		GarbageCount:  w.garbageCount,
	}
}

// Close gracefully flushes until the window drains or
// GracefulShutdownTimeout elapses, then destroys the writer (spec §4.6 step
// 6).
func (w *Writer) Close() {
	deadline := time.Now().Add(w.cfg.GracefulShutdownTimeout)
	for time.Now().Before(deadline) {
		w.mu.Lock()
		drained := w.bufferLength == 0
		w.mu.Unlock()
		if drained {
			break
		}
		w.flush()
		time.Sleep(10 * time.Millisecond)
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.destroy(errs.Destroyed("writer closed"))
}
