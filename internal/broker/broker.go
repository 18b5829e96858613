// Package broker routes requests between the public ZeroMQ ROUTER endpoint
// and per-request workers.
//
// One event-loop goroutine owns both sockets: the public ROUTER and an
// in-process DEALER acting as the rendezvous point. Each well-formed request
// is handed to its own goroutine, which runs the dispatcher and sends the
// reply back through a short-lived DEALER connected to the rendezvous
// endpoint. The loop forwards those replies to the ROUTER unchanged, so each
// reply reaches the client whose identity it carries, in completion order.
package broker

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/ccgateway/internal/log"
	"github.com/mattjoyce/ccgateway/internal/response"
	zmq "github.com/pebbe/zmq4"
)

const (
	defaultPollInterval = 100 * time.Millisecond

	// replyLinger lets a worker's reply reach the rendezvous socket after the
	// worker closes its DEALER.
	replyLinger = time.Second
)

// Dispatcher produces the reply token for one request payload.
type Dispatcher interface {
	Handle(ctx context.Context, payload string) response.Token
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, payload string) response.Token

// Handle calls f.
func (f DispatcherFunc) Handle(ctx context.Context, payload string) response.Token {
	return f(ctx, payload)
}

// DropRecorder counts inbound messages dropped as malformed.
type DropRecorder interface {
	FrameDropped()
}

// Options configure a Broker.
type Options struct {
	BindIP string
	// Port 0 binds an ephemeral port; see Endpoint.
	Port int
	// Verbose logs every routed request and reply.
	Verbose bool
	Logger  *slog.Logger
	Drops   DropRecorder
	// PollInterval bounds how long the loop takes to notice cancellation.
	PollInterval time.Duration
}

// Broker is the envelope router.
type Broker struct {
	opts    Options
	disp    Dispatcher
	logger  *slog.Logger
	backend string

	zctx *zmq.Context

	mu       sync.RWMutex
	endpoint string
	ready    chan struct{}
}

// New creates a Broker. Nothing is bound until Run.
func New(opts Options, disp Dispatcher) *Broker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithComponent("broker")
	}
	return &Broker{
		opts:    opts,
		disp:    disp,
		logger:  logger,
		backend: "inproc://ccgateway-back-" + uuid.NewString(),
		ready:   make(chan struct{}),
	}
}

// Endpoint returns the bound public endpoint, or "" before Run has bound it.
func (b *Broker) Endpoint() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.endpoint
}

// Ready is closed once both sockets are bound.
func (b *Broker) Ready() <-chan struct{} {
	return b.ready
}

func (b *Broker) bindAddress() string {
	port := "*"
	if b.opts.Port > 0 {
		port = fmt.Sprint(b.opts.Port)
	}
	return fmt.Sprintf("tcp://%s:%s", b.opts.BindIP, port)
}

// Run binds both sockets and serves until ctx is cancelled.
//
// Workers still running at shutdown are not cancelled; their replies are
// dropped.
func (b *Broker) Run(ctx context.Context) error {
	zctx, err := zmq.NewContext()
	if err != nil {
		return fmt.Errorf("create zmq context: %w", err)
	}
	b.zctx = zctx
	defer func() {
		if err := zctx.Term(); err != nil {
			b.logger.Debug("zmq context term", "error", err)
		}
	}()

	frontend, err := b.bind(zctx, zmq.ROUTER, b.bindAddress())
	if err != nil {
		return fmt.Errorf("bind frontend: %w", err)
	}
	defer frontend.Close()

	backend, err := b.bind(zctx, zmq.DEALER, b.backend)
	if err != nil {
		return fmt.Errorf("bind rendezvous: %w", err)
	}
	defer backend.Close()

	endpoint, err := frontend.GetLastEndpoint()
	if err != nil {
		return fmt.Errorf("resolve frontend endpoint: %w", err)
	}
	b.mu.Lock()
	b.endpoint = endpoint
	b.mu.Unlock()
	close(b.ready)

	b.logger.Info("broker listening", "endpoint", endpoint, "rendezvous", b.backend)
	defer b.logger.Info("broker stopped")

	workerCtx := context.WithoutCancel(ctx)

	poller := zmq.NewPoller()
	poller.Add(frontend, zmq.POLLIN)
	poller.Add(backend, zmq.POLLIN)

	for {
		if ctx.Err() != nil {
			return nil
		}

		polled, err := poller.Poll(b.opts.PollInterval)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EINTR) {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}

		for _, p := range polled {
			switch p.Socket {
			case frontend:
				b.accept(workerCtx, frontend)
			case backend:
				b.forward(backend, frontend)
			}
		}
	}
}

func (b *Broker) bind(zctx *zmq.Context, t zmq.Type, endpoint string) (*zmq.Socket, error) {
	sock, err := zctx.NewSocket(t)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return sock, nil
}

// accept reads one inbound message and hands it to a new worker goroutine.
func (b *Broker) accept(ctx context.Context, frontend *zmq.Socket) {
	frames, err := frontend.RecvMessageBytes(0)
	if err != nil {
		b.logger.Error("receive from frontend", "error", err)
		return
	}

	env, err := ParseEnvelope(frames)
	if err != nil {
		b.logger.Warn("dropping malformed message", "error", err, "frames", len(frames))
		if b.opts.Drops != nil {
			b.opts.Drops.FrameDropped()
		}
		return
	}

	if len(env.Delimiter) != 0 {
		b.logger.Debug("non-empty delimiter frame", "client", hex.EncodeToString(env.Identity), "delimiter", hex.EncodeToString(env.Delimiter))
	}
	if b.opts.Verbose {
		b.logger.Info("request received", "client", hex.EncodeToString(env.Identity), "request", env.Payload)
	}

	go b.serve(ctx, env)
}

// forward relays one worker reply to the public socket unchanged.
func (b *Broker) forward(backend, frontend *zmq.Socket) {
	frames, err := backend.RecvMessageBytes(0)
	if err != nil {
		b.logger.Error("receive from rendezvous", "error", err)
		return
	}
	if _, err := frontend.SendMessage(frames); err != nil {
		b.logger.Warn("forward reply", "error", err)
		return
	}
	if b.opts.Verbose && len(frames) > 0 {
		b.logger.Info("reply sent", "client", hex.EncodeToString(frames[0]), "token", string(frames[len(frames)-1]))
	}
}

// serve runs on its own goroutine and never touches the loop's sockets.
func (b *Broker) serve(ctx context.Context, env Envelope) {
	token := b.disp.Handle(ctx, env.Payload)
	if !token.Valid() {
		b.logger.Error("dispatcher returned invalid token", "token", string(token))
		token = response.Fail
	}
	if err := b.reply(env.Identity, token); err != nil {
		b.logger.Debug("reply dropped", "client", hex.EncodeToString(env.Identity), "error", err)
	}
}

func (b *Broker) reply(identity []byte, token response.Token) error {
	sock, err := b.zctx.NewSocket(zmq.DEALER)
	if err != nil {
		return fmt.Errorf("open rendezvous socket: %w", err)
	}
	defer sock.Close()

	if err := sock.SetLinger(replyLinger); err != nil {
		return err
	}
	if err := sock.Connect(b.backend); err != nil {
		return fmt.Errorf("connect rendezvous: %w", err)
	}
	if _, err := sock.SendMessage(ReplyFrames(identity, token)); err != nil {
		if zmq.AsErrno(err) == zmq.ETERM {
			return fmt.Errorf("broker shut down: %w", err)
		}
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}
