package modbus

import (
	"log"
	"time"
)

type TransportMode uint
type ClientState uint

const (
	// transport binding
	MODE_RTU TransportMode = 1
	MODE_TCP TransportMode = 2

	// engine states
	STATE_IDLE      ClientState = 0
	STATE_PREPARING ClientState = 1
	STATE_SENDING   ClientState = 2
	STATE_WAITING   ClientState = 3
	STATE_BACKOFF   ClientState = 4
)

const (
	defaultTimeout      = 1 * time.Second
	defaultRetryBackoff = 100 * time.Millisecond
	defaultWatchdog     = 10 * time.Second
	defaultPoolLength   = 8

	// maxInterval caps the doubling applied to per-attempt timeouts and
	// retry backoffs.
	maxInterval = 30 * time.Second
)

func (cs ClientState) String() (s string) {
	switch cs {
	case STATE_IDLE:
		s = "idle"
	case STATE_PREPARING:
		s = "preparing"
	case STATE_SENDING:
		s = "sending"
	case STATE_WAITING:
		s = "waiting"
	case STATE_BACKOFF:
		s = "backoff"
	default:
		s = "unknown"
	}

	return
}

type ClientConfiguration struct {
	// Transport is the caller-supplied non-blocking byte transport
	// (required).
	Transport Transport
	// Mode selects MODE_RTU or MODE_TCP framing (required).
	Mode TransportMode
	// Speed is the serial line rate in bauds, used to derive the t3.5
	// silence boundary (RTU only, defaults to 9600).
	Speed uint
	// SilenceTimeout overrides the derived t3.5 value when non-zero.
	SilenceTimeout time.Duration
	// MaxTransactions sizes the transaction pool (defaults to 8).
	MaxTransactions uint
	// QueueCapacity limits concurrently held transactions and may be
	// smaller than the pool (defaults to MaxTransactions).
	QueueCapacity uint
	// Timeout is the default per-attempt response timeout (defaults to 1s).
	Timeout time.Duration
	// MaxRetries is the default retry budget (defaults to 0, no retry).
	MaxRetries uint
	// RetryBackoff is the default base delay before a retry attempt
	// (defaults to 100ms, doubled per retry with a cap).
	RetryBackoff time.Duration
	// Watchdog aborts an exchange when the transport shows no activity at
	// all for this long (defaults to 10s; disable with SetWatchdog(0)).
	Watchdog time.Duration
	// DuplicateWindow enables inbound duplicate-frame suppression on RTU
	// links when non-zero.
	DuplicateWindow time.Duration
	// Logger receives engine log output (defaults to stdout).
	Logger *log.Logger
}

// Request describes one modbus exchange to be queued on the engine.
type Request struct {
	UnitId       uint8
	FunctionCode uint8
	Payload      []byte

	// Timeout, MaxRetries and RetryBackoff override the client defaults
	// for this transaction when non-zero.
	Timeout      time.Duration
	MaxRetries   uint
	RetryBackoff time.Duration

	// HighPriority inserts the transaction at the head of the pending
	// queue instead of the tail.
	HighPriority bool

	// NoResponse completes the transaction right after transmission
	// (e.g. broadcast writes, which are never answered).
	NoResponse bool

	// Callback, when set, is invoked exactly once on completion and the
	// transaction slot is released as soon as it returns. When nil, the
	// result has to be collected with Transaction.Take().
	Callback func(txn *Transaction)
}

// Response is the decoded view of a reply ADU.
type Response struct {
	UnitId       uint8
	FunctionCode uint8
	Payload      []byte
}

// Transaction is one pool slot describing an outstanding request.
// Handles are only valid while the transaction is in flight and, for
// callback-less submissions, until Take() is called.
type Transaction struct {
	// lifecycle flags
	inUse           bool
	queued          bool
	done            bool
	cancelled       bool
	callbackPending bool
	poison          bool
	highPriority    bool
	expectResponse  bool
	hasResponse     bool

	// request snapshot, copied into owned storage at submission
	unitId       uint8
	functionCode uint8
	reqStorage   [maxPayloadLength]byte
	reqLen       int
	callback     func(txn *Transaction)

	// budgets and deadlines
	baseTimeout  time.Duration
	retryBackoff time.Duration
	maxRetries   uint
	retries      uint
	deadline     time.Time
	nextAttempt  time.Time
	startTime    time.Time

	// transport correlation (TCP only)
	tid uint16

	// result
	status     error
	resStorage [maxPayloadLength]byte
	res        Response

	next *Transaction
}

// Done returns true once the transaction has completed.
func (txn *Transaction) Done() (done bool) {
	done = txn.done

	return
}

// Status returns the final status: nil on success, an Error otherwise.
// Only meaningful once Done() is true.
func (txn *Transaction) Status() (status error) {
	status = txn.status

	return
}

// Response returns the decoded response view, or nil when the transaction
// produced none. The payload aliases transaction-owned storage: copy it if
// it has to outlive the callback.
func (txn *Transaction) Response() (res *Response) {
	if txn.hasResponse {
		res = &txn.res
	}

	return
}

// Take collects the result of a completed callback-less transaction and
// releases its pool slot. It returns done == false while the transaction
// is still pending. The returned response is a copy and remains valid
// after the slot is recycled.
func (txn *Transaction) Take() (res *Response, status error, done bool) {
	if !txn.done || txn.callbackPending {
		return
	}

	done = true
	status = txn.status
	if txn.hasResponse {
		res = &Response{
			UnitId:       txn.res.UnitId,
			FunctionCode: txn.res.FunctionCode,
			Payload:      append([]byte(nil), txn.res.Payload...),
		}
	}
	txn.release()

	return
}

// Returns the slot to the free pool. The request/response snapshots are
// left in place and fully reinitialized by the next submission.
func (txn *Transaction) release() {
	txn.inUse = false
	txn.queued = false
	txn.cancelled = false
	txn.next = nil

	return
}

// ModbusClient is a non-blocking transaction engine: requests are queued
// with Submit() and all transport I/O, timeouts, retries and callbacks
// happen inside Poll()/PollWithBudget().
//
// A client instance is single-threaded cooperative by design: nothing here
// is safe for concurrent mutation. Multi-threaded hosts must serialize
// calls externally (e.g. one owning goroutine); this mirrors the embedded
// deployments the protocol engine targets, which have no threads at all.
type ModbusClient struct {
	conf      ClientConfiguration
	logger    *logger
	transport Transport
	framer    framer
	mode      TransportMode

	state        ClientState
	pool         []Transaction
	pendingHead  *Transaction
	pendingTail  *Transaction
	pendingCount uint
	current      *Transaction

	nextTid      uint16
	fcTimeouts   [256]time.Duration
	watchdog     time.Duration
	lastActivity time.Time

	metrics  ClientMetrics
	diag     Diagnostics
	eventCb  EventCallback
	traceHex bool

	// set by the frame handler while the framer is being polled, so that
	// step() can report progress
	frameProgress bool
}

// NewClient returns a client engine bound to the configured transport.
// Multiple independent engine instances can coexist; there is no shared
// global state.
func NewClient(conf *ClientConfiguration) (mc *ModbusClient, err error) {
	if conf == nil || conf.Transport == nil {
		err = ErrConfigurationError
		return
	}
	if conf.Mode != MODE_RTU && conf.Mode != MODE_TCP {
		err = ErrConfigurationError
		return
	}

	mc = &ModbusClient{
		conf:      *conf,
		transport: conf.Transport,
		mode:      conf.Mode,
		state:     STATE_IDLE,
		nextTid:   1,
	}

	// set useful defaults
	if mc.conf.MaxTransactions == 0 {
		mc.conf.MaxTransactions = defaultPoolLength
	}
	if mc.conf.QueueCapacity == 0 || mc.conf.QueueCapacity > mc.conf.MaxTransactions {
		mc.conf.QueueCapacity = mc.conf.MaxTransactions
	}
	if mc.conf.Timeout == 0 {
		mc.conf.Timeout = defaultTimeout
	}
	if mc.conf.RetryBackoff == 0 {
		mc.conf.RetryBackoff = defaultRetryBackoff
	}
	if mc.conf.Watchdog == 0 {
		mc.conf.Watchdog = defaultWatchdog
	}
	if mc.conf.Speed == 0 {
		mc.conf.Speed = 9600
	}

	mc.watchdog = mc.conf.Watchdog
	mc.pool = make([]Transaction, mc.conf.MaxTransactions)
	mc.logger = newLogger("modbus-client", mc.conf.Logger)
	mc.lastActivity = mc.transport.Now()

	switch mc.mode {
	case MODE_RTU:
		var filter *DuplicateFilter
		if mc.conf.DuplicateWindow > 0 {
			filter = NewDuplicateFilter(mc.conf.DuplicateWindow)
		}
		mc.framer = newRTUFramer(mc.transport, mc.conf.Speed,
			mc.conf.SilenceTimeout, filter, mc.onFrame, mc.conf.Logger)
	case MODE_TCP:
		mc.framer = newTCPFramer(mc.transport, mc.onFrame, mc.conf.Logger)
	}

	return
}

// Submit validates and queues a request, returning a transaction handle.
// No transport I/O happens here: the request is dispatched by a later
// Poll() call. High-priority requests bypass ahead of normal-priority
// ones.
func (mc *ModbusClient) Submit(req *Request) (txn *Transaction, err error) {
	if req == nil || len(req.Payload) > maxPayloadLength {
		mc.diag.InvalidRequests++
		err = ErrInvalidRequest
		return
	}
	if req.UnitId > maxSlaveAddress {
		mc.diag.InvalidRequests++
		err = ErrInvalidRequest
		return
	}
	// broadcast requests are never answered
	if req.UnitId == 0 && !req.NoResponse {
		mc.diag.InvalidRequests++
		err = ErrInvalidRequest
		return
	}

	txn, err = mc.allocate(req, false)

	return
}

// SubmitPoison enqueues a high-priority sentinel which, once dequeued,
// cancels every remaining queued transaction and returns the engine to
// idle without dispatching further work. Used for orderly shutdown.
func (mc *ModbusClient) SubmitPoison() (err error) {
	_, err = mc.allocate(&Request{NoResponse: true, HighPriority: true}, true)

	return
}

func (mc *ModbusClient) allocate(req *Request, poison bool) (txn *Transaction, err error) {
	var i int

	// the queue capacity limit never blocks a poison pill
	if !poison && mc.inflight() >= mc.conf.QueueCapacity {
		mc.diag.NoResources++
		err = ErrNoResources
		return
	}

	for i = 0; i < len(mc.pool); i++ {
		if !mc.pool[i].inUse {
			txn = &mc.pool[i]
			break
		}
	}
	if txn == nil {
		mc.diag.NoResources++
		err = ErrNoResources
		return
	}

	*txn = Transaction{
		inUse:          true,
		poison:         poison,
		highPriority:   req.HighPriority || poison,
		expectResponse: !req.NoResponse && !poison,
		unitId:         req.UnitId,
		functionCode:   req.FunctionCode,
		callback:       req.Callback,
		baseTimeout:    req.Timeout,
		retryBackoff:   req.RetryBackoff,
		maxRetries:     req.MaxRetries,
	}
	txn.reqLen = copy(txn.reqStorage[:], req.Payload)

	// apply client defaults where the request is silent
	if txn.baseTimeout == 0 {
		txn.baseTimeout = mc.conf.Timeout
	}
	if txn.retryBackoff == 0 {
		txn.retryBackoff = mc.conf.RetryBackoff
	}
	if txn.maxRetries == 0 {
		txn.maxRetries = mc.conf.MaxRetries
	}

	mc.metrics.Submitted++
	if !poison {
		mc.diag.ByFunctionCode[txn.functionCode]++
	}
	mc.emitTxEvent(EVENT_TX_SUBMIT, txn.functionCode, nil)

	mc.enqueue(txn)

	return
}

// Cancel aborts a transaction. A queued transaction is removed from the
// queue synchronously, without ever touching the transport; the in-flight
// transaction is marked cancelled and finalized by the next Poll() call
// (bytes already on the wire are not recalled, only the result reporting
// is short-circuited).
func (mc *ModbusClient) Cancel(txn *Transaction) (err error) {
	if txn == nil || !txn.inUse || txn.done {
		err = ErrInvalidRequest
		return
	}

	if txn == mc.current {
		txn.cancelled = true
		return
	}

	if !mc.removeFromQueue(txn) {
		err = ErrInvalidRequest
		return
	}

	mc.finalize(txn, ErrCancelled)

	return
}

// Poll runs the engine until it goes quiescent, i.e. until no further
// internal transition is possible without new bytes or elapsed time.
// This is the only place (along with PollWithBudget) where time advances
// and transport I/O occurs.
func (mc *ModbusClient) Poll() {
	for mc.step() {
	}

	return
}

// PollWithBudget performs at most steps micro-transitions before handing
// control back, so a single call cannot monopolize an event loop. It
// returns the number of transitions actually performed.
func (mc *ModbusClient) PollWithBudget(steps int) (performed int) {
	for performed < steps {
		if !mc.step() {
			break
		}
		performed++
		mc.yield()
	}

	return
}

// Performs one engine micro-transition. Returns false when there is
// nothing to do until new bytes arrive or time passes.
func (mc *ModbusClient) step() (progress bool) {
	var now time.Time
	var received int
	var err error

	now = mc.transport.Now()

	// finalize a cancellation flagged on the in-flight transaction
	if mc.current != nil && mc.current.cancelled {
		txn := mc.current
		mc.current = nil
		mc.framer.reset()
		mc.finalize(txn, ErrCancelled)
		mc.transition(STATE_IDLE)
		progress = true
		return
	}

	// service the transport
	mc.frameProgress = false
	received, err = mc.framer.poll(now)
	if received > 0 {
		mc.metrics.BytesReceived += uint64(received)
		mc.lastActivity = now
		progress = true
	}
	if mc.frameProgress {
		progress = true
	}
	if err != nil {
		// receive failures propagate to the retry policy, exactly like
		// timeouts and send failures
		mc.logger.Errorf("transport receive failure: %v", err)
		if mc.current != nil && mc.state == STATE_WAITING {
			mc.handleAttemptFailure(now, ErrTransport)
		} else {
			mc.diag.TransportErrors++
		}
		progress = true
		return
	}

	switch mc.state {
	case STATE_BACKOFF:
		if mc.current != nil && !now.Before(mc.current.nextAttempt) {
			mc.attemptSend(now)
			progress = true
		}

	case STATE_WAITING:
		if mc.current == nil {
			// the response landed while the framer was being polled
			mc.transition(STATE_IDLE)
			progress = true
			break
		}
		if !now.Before(mc.current.deadline) {
			mc.handleAttemptFailure(now, ErrRequestTimedOut)
			progress = true
			break
		}
		if mc.watchdog > 0 && now.Sub(mc.lastActivity) >= mc.watchdog {
			// no transport activity at all for a full watchdog window:
			// the link looks dead rather than slow, so abort the whole
			// exchange as a transport failure
			mc.logger.Errorf("watchdog expired after %v of transport inactivity", mc.watchdog)
			txn := mc.current
			mc.current = nil
			mc.framer.reset()
			mc.finalize(txn, ErrTransport)
			mc.transition(STATE_IDLE)
			progress = true
		}

	case STATE_IDLE:
		if mc.current == nil && mc.pendingHead != nil {
			mc.startNext(now)
			progress = true
		}
	}

	return
}

// IsIdle returns true when no transaction is current and the pending
// queue is empty.
func (mc *ModbusClient) IsIdle() (idle bool) {
	idle = mc.state == STATE_IDLE && mc.current == nil && mc.pendingHead == nil

	return
}

// State returns the engine's current scheduling state.
func (mc *ModbusClient) State() (state ClientState) {
	state = mc.state

	return
}

// Pending returns the number of transactions currently held by the engine
// (queued plus in flight).
func (mc *ModbusClient) Pending() (count uint) {
	count = mc.inflight()

	return
}

// SetWatchdog adjusts the transport-activity watchdog. A zero duration
// disables it.
func (mc *ModbusClient) SetWatchdog(watchdog time.Duration) {
	mc.watchdog = watchdog

	return
}

// SetQueueCapacity adjusts the queue capacity limit. A zero or
// out-of-range capacity resets it to the pool size.
func (mc *ModbusClient) SetQueueCapacity(capacity uint) {
	if capacity == 0 || capacity > uint(len(mc.pool)) {
		capacity = uint(len(mc.pool))
	}
	mc.conf.QueueCapacity = capacity

	return
}

// SetFunctionTimeout installs a per-function-code response timeout
// override. A non-zero override takes precedence over the transaction's
// base timeout; zero removes the override.
func (mc *ModbusClient) SetFunctionTimeout(functionCode uint8, timeout time.Duration) {
	mc.fcTimeouts[functionCode] = timeout

	return
}

// SetEventCallback installs a diagnostic observer invoked on engine state
// entry/exit and on transaction submission/completion.
func (mc *ModbusClient) SetEventCallback(cb EventCallback) {
	mc.eventCb = cb
	if cb != nil {
		mc.emitStateEvent(EVENT_STATE_ENTER, mc.state)
	}

	return
}

// SetTraceHex enables a hex dump of transmitted and received frames
// through the logger's debug level.
func (mc *ModbusClient) SetTraceHex(enable bool) {
	mc.traceHex = enable
	mc.logger.debug = enable

	return
}

// Metrics returns a snapshot of the engine counters.
func (mc *ModbusClient) Metrics() (m ClientMetrics) {
	m = mc.metrics

	return
}

// ResetMetrics clears the engine counters.
func (mc *ModbusClient) ResetMetrics() {
	mc.metrics = ClientMetrics{}

	return
}

// Diagnostics returns a snapshot of the per-class and per-function-code
// counters.
func (mc *ModbusClient) Diagnostics() (d Diagnostics) {
	d = mc.diag

	return
}

// ResetDiagnostics clears the diagnostic counters.
func (mc *ModbusClient) ResetDiagnostics() {
	mc.diag = Diagnostics{}

	return
}

// Counts transactions currently held by the engine: the in-flight one
// plus everything queued.
func (mc *ModbusClient) inflight() (count uint) {
	if mc.current != nil && mc.current.inUse && !mc.current.cancelled {
		count++
	}
	count += mc.pendingCount

	return
}

func (mc *ModbusClient) enqueue(txn *Transaction) {
	txn.queued = true
	txn.next = nil

	if txn.highPriority {
		txn.next = mc.pendingHead
		mc.pendingHead = txn
		if mc.pendingTail == nil {
			mc.pendingTail = txn
		}
	} else {
		if mc.pendingTail != nil {
			mc.pendingTail.next = txn
		} else {
			mc.pendingHead = txn
		}
		mc.pendingTail = txn
	}
	mc.pendingCount++

	return
}

func (mc *ModbusClient) dequeue() (txn *Transaction) {
	txn = mc.pendingHead
	if txn == nil {
		return
	}

	mc.pendingHead = txn.next
	if mc.pendingHead == nil {
		mc.pendingTail = nil
	}
	txn.next = nil
	txn.queued = false
	if mc.pendingCount > 0 {
		mc.pendingCount--
	}

	return
}

func (mc *ModbusClient) removeFromQueue(target *Transaction) (removed bool) {
	var prev, node *Transaction

	for node = mc.pendingHead; node != nil; prev, node = node, node.next {
		if node != target {
			continue
		}

		if prev != nil {
			prev.next = node.next
		} else {
			mc.pendingHead = node.next
		}
		if mc.pendingTail == node {
			mc.pendingTail = prev
		}

		node.next = nil
		node.queued = false
		if mc.pendingCount > 0 {
			mc.pendingCount--
		}
		removed = true
		return
	}

	return
}

// Dequeues and dispatches the next pending transaction.
func (mc *ModbusClient) startNext(now time.Time) {
	mc.current = mc.dequeue()
	if mc.current == nil {
		return
	}

	mc.attemptSend(now)

	return
}

// Builds and transmits the current transaction's frame, then arms its
// response deadline. A dequeued poison pill drains the queue instead.
func (mc *ModbusClient) attemptSend(now time.Time) {
	var txn *Transaction
	var timeout time.Duration
	var p *pdu
	var err error

	txn = mc.current
	mc.transition(STATE_PREPARING)

	if txn.poison {
		mc.drainQueue()
		mc.current = nil
		mc.finalize(txn, ErrCancelled)
		mc.transition(STATE_IDLE)
		return
	}

	// resolve this attempt's timeout: a non-zero per-function-code
	// override wins over the transaction's base timeout; either is
	// doubled per retry attempt, with a cap
	timeout = mc.fcTimeouts[txn.functionCode]
	if timeout == 0 {
		timeout = txn.baseTimeout
	}
	timeout = doubleWithCap(timeout, txn.retries)

	p = &pdu{
		unitId:       txn.unitId,
		functionCode: txn.functionCode,
		payload:      txn.reqStorage[:txn.reqLen],
	}

	if mc.mode == MODE_TCP && txn.tid == 0 {
		txn.tid = mc.allocateTid()
	}

	txn.startTime = now
	mc.transition(STATE_SENDING)
	mc.traceFrame("tx", p)

	err = mc.framer.submit(p, txn.tid)
	if err != nil {
		mc.logger.Errorf("transport send failure: %v", err)
		mc.handleAttemptFailure(now, ErrTransport)
		return
	}

	mc.metrics.BytesSent += uint64(mc.frameLength(txn.reqLen))
	mc.lastActivity = now

	if !txn.expectResponse {
		mc.current = nil
		mc.finalize(txn, nil)
		mc.transition(STATE_IDLE)
		return
	}

	txn.deadline = now.Add(timeout)
	mc.transition(STATE_WAITING)

	return
}

// Applies the retry policy to a failed attempt. The same policy covers
// timeouts, send failures and receive failures.
func (mc *ModbusClient) handleAttemptFailure(now time.Time, status error) {
	var txn *Transaction

	txn = mc.current
	if txn == nil {
		return
	}

	if txn.retries >= txn.maxRetries {
		mc.current = nil
		mc.finalize(txn, status)
		mc.transition(STATE_IDLE)
		return
	}

	txn.retries++
	mc.metrics.Retried++
	txn.nextAttempt = now.Add(doubleWithCap(txn.retryBackoff, txn.retries-1))
	mc.transition(STATE_BACKOFF)

	return
}

// Cancels every queued transaction (poison pill semantics). Callbacks are
// still invoked, with ErrCancelled.
func (mc *ModbusClient) drainQueue() {
	var txn *Transaction

	for txn = mc.dequeue(); txn != nil; txn = mc.dequeue() {
		mc.finalize(txn, ErrCancelled)
	}

	return
}

// Receives decoded frames (and framing telemetry) from the bound framer,
// from within framer.poll().
func (mc *ModbusClient) onFrame(p *pdu, txnId uint16, err error) {
	var txn *Transaction
	var status error
	var n int

	if err != nil {
		// framing and CRC failures are recovered (or timed out) locally:
		// they reach the engine as telemetry only
		mc.diag.recordStatus(err)
		mc.logger.Debugf("inbound frame error: %v", err)
		return
	}

	if mc.current == nil || mc.state != STATE_WAITING {
		mc.diag.UnexpectedFrames++
		mc.logger.Warningf("received frame with no transaction in flight (unit id: %v)", p.unitId)
		return
	}

	if mc.mode == MODE_TCP && txnId != mc.current.tid {
		mc.diag.UnexpectedFrames++
		mc.logger.Warningf("received unexpected transaction id "+
			"(expected 0x%04x, received 0x%04x)", mc.current.tid, txnId)
		return
	}
	if mc.mode == MODE_RTU && p.unitId != mc.current.unitId {
		mc.diag.UnexpectedFrames++
		mc.logger.Warningf("received frame from unexpected unit id "+
			"(expected %v, received %v)", mc.current.unitId, p.unitId)
		return
	}

	mc.frameProgress = true
	txn = mc.current
	mc.current = nil

	mc.traceFrame("rx", p)

	// copy the response into the transaction's owned storage
	txn.res.UnitId = p.unitId
	txn.res.FunctionCode = p.functionCode
	n = copy(txn.resStorage[:], p.payload)
	txn.res.Payload = txn.resStorage[:n]
	txn.hasResponse = true

	// a well-formed exception response is a valid reply carrying an
	// error status, distinct from any transport-level failure
	if isExceptionResponse(p) && n >= 1 {
		status = mapExceptionCodeToError(txn.resStorage[0])
	}

	mc.metrics.ResponseLatencyTotal += mc.transport.Now().Sub(txn.startTime)
	mc.finalize(txn, status)
	mc.transition(STATE_IDLE)

	return
}

// Completes a transaction exactly once: counters, diagnostics, completion
// event, callback, slot lifecycle.
func (mc *ModbusClient) finalize(txn *Transaction, status error) {
	mc.metrics.Completed++
	switch status {
	case nil:
		if txn.hasResponse {
			mc.metrics.Responses++
		}
	case ErrRequestTimedOut:
		mc.metrics.TimedOut++
	case ErrCancelled:
		mc.metrics.Cancelled++
	default:
		mc.metrics.Errored++
	}
	if txn.poison {
		mc.metrics.PoisonTriggers++
	}
	mc.diag.recordStatus(status)

	txn.status = status
	txn.done = true
	txn.queued = false
	txn.next = nil

	mc.emitTxEvent(EVENT_TX_COMPLETE, txn.functionCode, status)

	switch {
	case txn.callback != nil:
		txn.callbackPending = true
		txn.callback(txn)
		txn.callbackPending = false
		txn.release()
	case txn.poison:
		// poison pills have no handle to collect them with: return the
		// slot right away
		txn.release()
	}
	// other callback-less transactions hold their slot until Take()

	return
}

func (mc *ModbusClient) allocateTid() (tid uint16) {
	tid = mc.nextTid
	mc.nextTid++
	if mc.nextTid == 0 {
		// 0 marks "unassigned" on the transaction descriptor
		mc.nextTid = 1
	}

	return
}

// Returns the on-wire frame length for a request payload of the given
// size under the bound framing.
func (mc *ModbusClient) frameLength(payloadLen int) (length int) {
	switch mc.mode {
	case MODE_RTU:
		// unit id + function code + payload + crc
		length = 1 + 1 + payloadLen + 2
	case MODE_TCP:
		// mbap header + function code + payload
		length = mbapHeaderLength + 1 + payloadLen
	}

	return
}

func (mc *ModbusClient) transition(next ClientState) {
	if mc.state == next {
		return
	}

	mc.emitStateEvent(EVENT_STATE_EXIT, mc.state)
	mc.state = next
	mc.emitStateEvent(EVENT_STATE_ENTER, next)

	return
}

func (mc *ModbusClient) emitStateEvent(et EventType, state ClientState) {
	if mc.eventCb == nil {
		return
	}

	mc.eventCb(Event{
		Type:      et,
		Timestamp: mc.transport.Now(),
		State:     state,
	})

	return
}

func (mc *ModbusClient) emitTxEvent(et EventType, functionCode uint8, status error) {
	if mc.eventCb == nil {
		return
	}

	mc.eventCb(Event{
		Type:         et,
		Timestamp:    mc.transport.Now(),
		State:        mc.state,
		FunctionCode: functionCode,
		Status:       status,
	})

	return
}

func (mc *ModbusClient) traceFrame(label string, p *pdu) {
	if !mc.traceHex {
		return
	}

	mc.logger.Debugf("%s: unit id %v, function code 0x%02x, payload [% 02x]",
		label, p.unitId, p.functionCode, p.payload)

	return
}

func (mc *ModbusClient) yield() {
	if y, ok := mc.transport.(Yielder); ok {
		y.Yield()
	}

	return
}

// Doubles d once per elapsed retry, capped at maxInterval.
func doubleWithCap(d time.Duration, times uint) (out time.Duration) {
	out = d
	for ; times > 0 && out < maxInterval; times-- {
		out *= 2
	}
	if out > maxInterval {
		out = maxInterval
	}

	return
}
