package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ydb-platform/ydb-go-topic/internal/codec"
	"github.com/ydb-platform/ydb-go-topic/internal/errs"
	"github.com/ydb-platform/ydb-go-topic/internal/obs"
	"github.com/ydb-platform/ydb-go-topic/internal/queue"
	"github.com/ydb-platform/ydb-go-topic/internal/retry"
)

const (
	priorityControl = 0
	priorityData    = 0

	defaultMaxBufferBytes = 4 << 20
	defaultGracefulWait   = 30 * time.Second
	lowWatermarkFraction  = 0.5
)

// Config configures a Reader (spec §6's reader configuration keys).
type Config struct {
	Consumer                string
	Topics                  []TopicReadSettings
	Codecs                  *codec.Registry
	MaxBufferBytes          int
	GracefulShutdownTimeout time.Duration
	Dial                    Dialer
	Callbacks               Callbacks
	Logger                  *slog.Logger
	RetryOptions            retry.Options
	Metrics                 *obs.TopicMetrics
}

type bufferedBatch struct {
	session  *PartitionSession
	messages []Message
	bytes    int
}

// Reader is the spec §4.5 topic reader: one bidirectional StreamRead
// session, transparently reconnected, exposing a buffered read iterator and
// commit().
type Reader struct {
	cfg    Config
	logger *slog.Logger

	outgoing *queue.Queue

	mu             sync.Mutex
	sessions       map[uint64]*PartitionSession
	freeBufferSize int
	maxBufferSize  int

	bufMu   sync.Mutex
	bufCond *sync.Cond
	buffer  []bufferedBatch
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Reader; call Run to start the stream loop.
func New(cfg Config) *Reader {
	if cfg.Codecs == nil {
		cfg.Codecs = codec.NewRegistry()
	}
	if cfg.MaxBufferBytes == 0 {
		cfg.MaxBufferBytes = defaultMaxBufferBytes
	}
	if cfg.GracefulShutdownTimeout == 0 {
		cfg.GracefulShutdownTimeout = defaultGracefulWait
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = obs.NoopTopicMetrics()
	}
	if cfg.RetryOptions.Strategy == nil {
		cfg.RetryOptions = retry.Options{
			Predicate: retry.DefaultPredicate,
			Budget:    -1,
			Strategy:  retry.Jittered(retry.CappedExponential(200*time.Millisecond, 30*time.Second)),
			Idempotent: true,
		}
	}

	r := &Reader{
		cfg:           cfg,
		logger:        cfg.Logger.With(slog.String("component", "topic.reader"), slog.String("consumer", cfg.Consumer)),
		outgoing:      queue.New(),
		sessions:      map[uint64]*PartitionSession{},
		maxBufferSize: cfg.MaxBufferBytes,
	}
	r.bufCond = sync.NewCond(&r.bufMu)
	r.freeBufferSize = r.maxBufferSize
	return r
}

// Run drives the connect/init/run/reconnect loop until ctx is cancelled.
func (r *Reader) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for runCtx.Err() == nil {
		err := r.runOnce(runCtx)
		if err == nil {
			continue
		}
		var e *errs.Error
		if errs.As(err, &e) && e.Retryable(true) {
			r.logger.Warn("stream error, reconnecting", "err", err)
			r.cfg.Metrics.ReconnectCount.Add(context.Background(), 1)
			continue
		}
		r.logger.Error("stream terminated", "err", err)
		r.destroy(err)
		return
	}
	r.destroy(errs.Destroyed("context cancelled"))
}

// runOnce performs one full Connect->Init->Run cycle, returning when the
// stream ends (error or ctx cancellation).
func (r *Reader) runOnce(ctx context.Context) error {
	r.resetForReconnect()

	stream, err := retry.Do(ctx, r.cfg.RetryOptions, func(ctx context.Context) (StreamClient, error) {
		return r.cfg.Dial(ctx)
	})
	if err != nil {
		return err
	}

	if err := stream.Send(&ClientMessage{Init: &InitRequest{
		Consumer: r.cfg.Consumer,
		Topics:   r.cfg.Topics,
	}}); err != nil {
		return err
	}

	sendDone := make(chan struct{})
	go r.sendLoop(ctx, stream, sendDone)
	defer func() {
		_ = stream.CloseSend()
		<-sendDone
	}()

	for {
		msg, err := stream.Recv()
		if err != nil {
			return err
		}
		if msg.Status != StatusSuccess {
			return errs.FromServerMessage(msg.Code, msg.Issues)
		}
		if err := r.dispatch(msg); err != nil {
			return err
		}
	}
}

func (r *Reader) sendLoop(ctx context.Context, stream StreamClient, done chan struct{}) {
	defer close(done)
	for {
		v, ok := r.outgoing.Pop()
		if !ok {
			return
		}
		frame := v.(*ClientMessage)
		if err := stream.Send(frame); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// resetForReconnect discards the buffer, resets free credits, stops all
// partition sessions, and rejects every outstanding pending commit with
// Reconnecting (spec §4.5 step 1).
func (r *Reader) resetForReconnect() {
	r.bufMu.Lock()
	r.buffer = nil
	r.bufMu.Unlock()

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = map[uint64]*PartitionSession{}
	r.freeBufferSize = r.maxBufferSize
	r.mu.Unlock()

	for _, s := range sessions {
		s.markStopped()
		s.rejectAllPending(errs.Reconnecting())
	}
}

func (r *Reader) dispatch(msg *ServerMessage) error {
	switch {
	case msg.InitResponse != nil:
		r.logger.Info("session initialized")
		r.outgoing.Push(&ClientMessage{Read: &ReadRequest{BytesSize: r.currentFreeBufferSize()}}, priorityData)
	case msg.StartPartitionSessionRequest != nil:
		r.handleStart(msg.StartPartitionSessionRequest)
	case msg.StopPartitionSessionRequest != nil:
		r.handleStop(msg.StopPartitionSessionRequest)
	case msg.EndPartitionSession != nil:
		r.handleEnd(msg.EndPartitionSession)
	case msg.ReadResponse != nil:
		r.handleRead(msg.ReadResponse)
	case msg.CommitOffsetResponse != nil:
		r.handleCommitResponse(msg.CommitOffsetResponse)
	}
	return nil
}

func (r *Reader) currentFreeBufferSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.freeBufferSize
}

func (r *Reader) handleStart(req *StartPartitionSessionRequest) {
	s := &PartitionSession{
		ID:                       req.PartitionSessionID,
		PartitionID:              req.PartitionID,
		Path:                     req.Path,
		nextCommitStartOffset:    req.CommittedOffset,
		partitionCommittedOffset: req.CommittedOffset,
		startOffset:              req.PartitionOffsets.Start,
		endOffset:                req.PartitionOffsets.End,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	resp := &StartPartitionSessionResponse{PartitionSessionID: s.ID}
	if r.cfg.Callbacks.OnPartitionSessionStart != nil {
		readOffset, commitOffset := r.cfg.Callbacks.OnPartitionSessionStart(s, req.CommittedOffset, req.PartitionOffsets.Start, req.PartitionOffsets.End)
		resp.ReadOffset = readOffset
		resp.CommitOffset = commitOffset
	}
	r.outgoing.Push(&ClientMessage{StartPartitionSessionResponse: resp}, priorityControl)
}

func (r *Reader) handleStop(req *StopPartitionSessionRequest) {
	r.mu.Lock()
	s, ok := r.sessions[req.PartitionSessionID]
	r.mu.Unlock()
	if !ok {
		return
	}

	if r.cfg.Callbacks.OnPartitionSessionStop != nil {
		r.cfg.Callbacks.OnPartitionSessionStop(s, s.getCommittedOffset())
	}

	if !req.Graceful {
		s.markStopped()
		s.rejectAllPending(errs.DeadPartitionSession(s.ID))
		r.mu.Lock()
		delete(r.sessions, s.ID)
		r.mu.Unlock()
		return
	}

	go r.awaitGracefulStop(s)
}

func (r *Reader) awaitGracefulStop(s *PartitionSession) {
	deadline := time.Now().Add(defaultGracefulWait)
	for time.Now().Before(deadline) && s.pendingCount() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	s.markStopped()
	r.outgoing.Push(&ClientMessage{StopPartitionSessionResponse: &StopPartitionSessionResponse{PartitionSessionID: s.ID}}, priorityControl)
}

func (r *Reader) handleEnd(msg *EndPartitionSession) {
	r.mu.Lock()
	s, ok := r.sessions[msg.PartitionSessionID]
	r.mu.Unlock()
	if ok {
		s.markEnded()
	}
}

func (r *Reader) handleRead(resp *ReadResponse) {
	r.mu.Lock()
	r.freeBufferSize -= resp.BytesSize
	r.mu.Unlock()

	for _, pd := range resp.PartitionData {
		r.mu.Lock()
		s, ok := r.sessions[pd.PartitionSessionID]
		r.mu.Unlock()
		if !ok {
			continue
		}

		messages := make([]Message, 0, len(pd.Messages))
		size := 0
		for _, raw := range pd.Messages {
			data, err := r.cfg.Codecs.Decompress(raw.CodecID, raw.Data)
			if err != nil {
				r.logger.Error("failed to decompress message, skipping", "err", err, "partition_session_id", pd.PartitionSessionID)
				continue
			}
			messages = append(messages, Message{
				PartitionSessionID: pd.PartitionSessionID,
				Offset:             raw.Offset,
				ProducerID:         raw.ProducerID,
				Data:               data,
				CreatedAt:          raw.CreatedAt,
				Alive:              true,
				Metadata:           raw.Metadata,
				uncompressedSize:   len(data),
			})
			size += len(data)
		}
		if len(messages) == 0 {
			continue
		}

		r.bufMu.Lock()
		r.buffer = append(r.buffer, bufferedBatch{session: s, messages: messages, bytes: size})
		r.bufCond.Signal()
		r.bufMu.Unlock()
		r.cfg.Metrics.BufferOccupancy.Add(context.Background(), int64(size))
	}
}

func (r *Reader) handleCommitResponse(resp *CommitOffsetResponse) {
	for _, entry := range resp.PartitionsCommittedOffsets {
		r.mu.Lock()
		s, ok := r.sessions[entry.PartitionSessionID]
		r.mu.Unlock()
		if !ok {
			continue
		}
		s.resolveUpTo(entry.CommittedOffset)
		if r.cfg.Callbacks.OnCommittedOffset != nil {
			r.cfg.Callbacks.OnCommittedOffset(s, entry.CommittedOffset)
		}
	}
}

// ReadOptions controls one call to Read.
type ReadOptions struct {
	Limit  int
	WaitMs int
}

// Read blocks until at least one batch is available, waitMs elapses, or
// ctx is cancelled, returning a non-empty slice of messages from a single
// partition session (spec §4.5's read iterator). An empty slice with a nil
// error signals a wait timeout; callers loop to continue iterating.
func (r *Reader) Read(ctx context.Context, opts ReadOptions) ([]Message, error) {
	wait := time.Duration(opts.WaitMs) * time.Millisecond
	if wait <= 0 {
		wait = time.Hour
	}

	type result struct {
		batch bufferedBatch
		ok    bool
	}
	resCh := make(chan result, 1)

	go func() {
		r.bufMu.Lock()
		for len(r.buffer) == 0 && !r.closed {
			r.bufCond.Wait()
		}
		if len(r.buffer) == 0 {
			r.bufMu.Unlock()
			resCh <- result{}
			return
		}
		batch := r.buffer[0]
		r.buffer = r.buffer[1:]
		r.bufMu.Unlock()
		resCh <- result{batch: batch, ok: true}
	}()

	select {
	case <-ctx.Done():
		return nil, errs.Cancelled()
	case <-time.After(wait):
		return nil, nil
	case res := <-resCh:
		if !res.ok {
			return nil, errs.Destroyed("reader closed")
		}
		batch := res.batch
		messages := batch.messages
		if opts.Limit > 0 && len(messages) > opts.Limit {
			r.requeueRemainder(batch, opts.Limit)
			messages = messages[:opts.Limit]
		}
		consumed := batch.bytes * len(messages) / max(1, len(batch.messages))
		r.creditBack(consumed)
		r.cfg.Metrics.BufferOccupancy.Add(context.Background(), -int64(consumed))
		return messages, nil
	}
}

func (r *Reader) requeueRemainder(batch bufferedBatch, limit int) {
	remainder := bufferedBatch{session: batch.session, messages: batch.messages[limit:]}
	r.bufMu.Lock()
	r.buffer = append([]bufferedBatch{remainder}, r.buffer...)
	r.bufCond.Signal()
	r.bufMu.Unlock()
}

func (r *Reader) creditBack(delta int) {
	if delta <= 0 {
		return
	}
	r.mu.Lock()
	r.freeBufferSize += delta
	free := r.freeBufferSize
	r.mu.Unlock()

	if float64(delta) >= float64(r.maxBufferSize)*lowWatermarkFraction {
		r.outgoing.Push(&ClientMessage{Read: &ReadRequest{BytesSize: free}}, priorityData)
	}
}

// Commit submits one or more messages for durable commit, returning a
// completion resolved once the server acknowledges the watermark for every
// touched partition session (spec §4.5's commit semantics).
func (r *Reader) Commit(messages []Message) (<-chan error, error) {
	if len(messages) == 0 {
		return nil, errs.DeadMessage("commit called with no messages")
	}

	byGroup := map[uint64][]Message{}
	for _, m := range messages {
		if !m.Alive {
			return nil, errs.DeadMessage("commit called with a non-alive message")
		}
		byGroup[m.PartitionSessionID] = append(byGroup[m.PartitionSessionID], m)
	}

	var entries []CommitOffsetEntry
	var pendings []*PendingCommit

	for sessionID, group := range byGroup {
		r.mu.Lock()
		s, ok := r.sessions[sessionID]
		r.mu.Unlock()
		if !ok || !s.isLive() {
			return nil, errs.DeadPartitionSession(sessionID)
		}

		ranges, err := foldRanges(group)
		if err != nil {
			return nil, err
		}
		ranges[0].Start = s.getNextCommitStart()

		for _, rg := range ranges {
			pc := newPendingCommit(s, rg.Start, rg.End)
			s.addPending(pc)
			pendings = append(pendings, pc)
		}
		s.setNextCommitStart(ranges[len(ranges)-1].End)

		entries = append(entries, CommitOffsetEntry{PartitionSessionID: sessionID, Offsets: ranges})
	}

	r.outgoing.Push(&ClientMessage{CommitOffset: &CommitOffsetRequest{CommitOffsets: entries}}, priorityControl)

	done := make(chan error, 1)
	started := time.Now()
	go func() {
		for _, pc := range pendings {
			if err := <-pc.Wait(); err != nil {
				done <- err
				return
			}
		}
		r.cfg.Metrics.CommitLatency.Record(context.Background(), float64(time.Since(started).Milliseconds()))
		done <- nil
	}()
	return done, nil
}

// foldRanges groups strictly increasing offsets into dense [start, end)
// ranges (spec §4.5 step 2); out-of-order or duplicate offsets fail.
func foldRanges(messages []Message) ([]OffsetRange, error) {
	var ranges []OffsetRange
	for i, m := range messages {
		if i > 0 && m.Offset <= messages[i-1].Offset {
			return nil, errs.OutOfOrderCommit(fmt.Sprintf("duplicate or out-of-order offset %d", m.Offset))
		}
		if len(ranges) > 0 && ranges[len(ranges)-1].End == m.Offset {
			ranges[len(ranges)-1].End = m.Offset + 1
			continue
		}
		ranges = append(ranges, OffsetRange{Start: m.Offset, End: m.Offset + 1})
	}
	return ranges, nil
}

func (r *Reader) destroy(reason error) {
	r.bufMu.Lock()
	r.closed = true
	r.bufCond.Broadcast()
	r.bufMu.Unlock()

	r.mu.Lock()
	sessions := r.sessions
	r.mu.Unlock()
	for _, s := range sessions {
		s.rejectAllPending(reason)
	}
	r.outgoing.Close()
}

// Close gracefully drains pending commits up to GracefulShutdownTimeout,
// then destroys the reader (spec §4.5 step 5).
func (r *Reader) Close() {
	deadline := time.Now().Add(r.cfg.GracefulShutdownTimeout)
	for time.Now().Before(deadline) && r.anyPending() {
		time.Sleep(50 * time.Millisecond)
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.destroy(errs.Destroyed("reader closed"))
}

// Stats is a point-in-time snapshot for operational monitoring (§10
// "Reader/writer metrics"); cmd/ydbtopic-top polls it on a tick.
type Stats struct {
	PartitionSessionCount int
	FreeBufferBytes       int
	BufferedBatchCount    int
	PendingCommitCount    int
}

// Stats returns a snapshot of the reader's current buffer/session state.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	sessionCount := len(r.sessions)
	free := r.freeBufferSize
	pending := 0
	for _, s := range r.sessions {
		pending += s.pendingCount()
	}
	r.mu.Unlock()

	r.bufMu.Lock()
	batches := len(r.buffer)
	r.bufMu.Unlock()

	return Stats{
		PartitionSessionCount: sessionCount,
		FreeBufferBytes:       free,
		BufferedBatchCount:    batches,
		PendingCommitCount:    pending,
	}
}

func (r *Reader) anyPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.pendingCount() > 0 {
			return true
		}
	}
	return false
}
