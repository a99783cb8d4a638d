package pool

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/tidwall/gjson"

	"ledgercache/pkg/ledgercache"
)

// Node reply operations.
const (
	opReqAck  = "REQACK"
	opReqNack = "REQNACK"
	opReply   = "REPLY"
	opReject  = "REJECT"
)

const (
	// DefaultTimeout bounds one read when the context has no earlier deadline.
	DefaultTimeout = 20 * time.Second

	pollInterval   = 100 * time.Millisecond
	identifierSize = 32
)

var (
	// ErrUnknownPool is returned for handles that were never opened or are closed.
	ErrUnknownPool = errors.New("unknown pool handle")

	// ErrTimeout is returned when no final reply arrives in time.
	ErrTimeout = errors.New("timed out waiting for node reply")
)

// Curve holds CurveZMQ keys. Keys are Z85 or raw 32 byte strings.
type Curve struct {
	PublicKey  string
	SecretKey  string
	ServerKeys map[string]string // by node alias
}

// Option is a functional option for configuring a Transport.
type Option interface {
	apply(*Transport)
}

type optionFunc func(*Transport)

func (f optionFunc) apply(t *Transport) {
	f(t)
}

// WithTimeout sets the per-read timeout.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(t *Transport) {
		t.timeout = d
	})
}

// WithCurve enables CurveZMQ encryption for every node connection.
func WithCurve(c Curve) Option {
	return optionFunc(func(t *Transport) {
		t.curve = &c
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(t *Transport) {
		t.logger = l
	})
}

// WithNodePicker overrides random node selection; pick returns an index
// into nodes.
func WithNodePicker(pick func(nodes []Node) int) Option {
	return optionFunc(func(t *Transport) {
		t.pick = pick
	})
}

// Transport submits read requests to a single validator over ZeroMQ.
// It implements ledgercache.Transport.
type Transport struct {
	timeout time.Duration
	curve   *Curve
	logger  *slog.Logger
	pick    func(nodes []Node) int

	mu    sync.RWMutex
	pools map[ledgercache.PoolHandle][]Node
	next  ledgercache.PoolHandle
}

var _ ledgercache.Transport = (*Transport)(nil)

// NewTransport creates a transport with no open pools.
func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		timeout: DefaultTimeout,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		pick:    randomNode,
		pools:   make(map[ledgercache.PoolHandle][]Node),
	}
	for _, opt := range opts {
		opt.apply(t)
	}
	return t
}

// OpenPool registers a validator set and returns its handle.
func (t *Transport) OpenPool(nodes []Node) (ledgercache.PoolHandle, error) {
	if len(nodes) == 0 {
		return 0, errors.New("pool has no nodes")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.pools[t.next] = append([]Node(nil), nodes...)
	return t.next, nil
}

// ClosePool forgets a pool.
func (t *Transport) ClosePool(handle ledgercache.PoolHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pools[handle]; !ok {
		return ErrUnknownPool
	}
	delete(t.pools, handle)
	return nil
}

// Nodes returns the validators of an open pool.
func (t *Transport) Nodes(handle ledgercache.PoolHandle) ([]Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	nodes, ok := t.pools[handle]
	if !ok {
		return nil, ErrUnknownPool
	}
	return append([]Node(nil), nodes...), nil
}

// SubmitRead sends request to one node of the pool and waits for its final
// reply. REQACK is skipped; REPLY, REJECT and REQNACK are returned as-is.
func (t *Transport) SubmitRead(ctx context.Context, handle ledgercache.PoolHandle, request []byte) ([]byte, error) {
	nodes, err := t.Nodes(handle)
	if err != nil {
		return nil, err
	}
	node := nodes[t.pick(nodes)]
	reqID := gjson.GetBytes(request, "reqId").Uint()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	socket, err := t.openSocket(node)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.Alias, err)
	}
	defer socket.Close()

	if _, err := socket.SendBytes(request, 0); err != nil {
		return nil, fmt.Errorf("node %s: send: %w", node.Alias, err)
	}
	t.logger.DebugContext(ctx, "read submitted",
		slog.String("node", node.Alias),
		slog.Uint64("req_id", reqID),
	)

	poller := zmq.NewPoller()
	poller.Add(socket, zmq.POLLIN)
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("node %s: %w", node.Alias, ErrTimeout)
			}
			return nil, err
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			return nil, fmt.Errorf("node %s: poll: %w", node.Alias, err)
		}
		if len(polled) == 0 {
			continue
		}

		msg, err := socket.RecvBytes(0)
		if err != nil {
			return nil, fmt.Errorf("node %s: receive: %w", node.Alias, err)
		}
		if final, ok := finalReply(msg, reqID); ok {
			return final, nil
		}
	}
}

// finalReply reports whether msg is the terminal answer to reqID.
func finalReply(msg []byte, reqID uint64) ([]byte, bool) {
	if !gjson.ValidBytes(msg) {
		return nil, false
	}
	doc := gjson.ParseBytes(msg)
	switch doc.Get("op").String() {
	case opReply:
		if id := doc.Get("result.reqId"); id.Exists() && id.Uint() != reqID {
			return nil, false
		}
		return msg, true
	case opReject, opReqNack:
		if id := doc.Get("reqId"); id.Exists() && id.Uint() != reqID {
			return nil, false
		}
		return msg, true
	default:
		// REQACK and anything unrecognised
		return nil, false
	}
}

func (t *Transport) openSocket(node Node) (*zmq.Socket, error) {
	socket, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*zmq.Socket, error) {
		socket.Close()
		return nil, err
	}

	id, err := newIdentity()
	if err != nil {
		return fail(err)
	}
	if err := socket.SetIdentity(string(id)); err != nil {
		return fail(err)
	}
	if err := socket.SetLinger(0); err != nil {
		return fail(err)
	}

	if t.curve != nil {
		serverKey, ok := t.curve.ServerKeys[node.Alias]
		if !ok {
			return fail(fmt.Errorf("no curve server key for node %s", node.Alias))
		}
		if err := socket.SetCurveServer(0); err != nil {
			return fail(err)
		}
		if err := socket.SetCurvePublickey(t.curve.PublicKey); err != nil {
			return fail(err)
		}
		if err := socket.SetCurveSecretkey(t.curve.SecretKey); err != nil {
			return fail(err)
		}
		if err := socket.SetCurveServerkey(serverKey); err != nil {
			return fail(err)
		}
	}

	if err := socket.Connect(node.Address); err != nil {
		return fail(err)
	}
	return socket, nil
}

// newIdentity returns a random socket identity. ZeroMQ reserves identities
// starting with a zero byte.
func newIdentity() ([]byte, error) {
	id := make([]byte, identifierSize)
	if _, err := rand.Read(id); err != nil {
		return nil, err
	}
	if id[0] == 0 {
		id[0] = 1
	}
	return id, nil
}

func randomNode(nodes []Node) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(nodes))))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
