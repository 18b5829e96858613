package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/ccgateway/internal/config"
	"github.com/mattjoyce/ccgateway/internal/log"
	"github.com/mattjoyce/ccgateway/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from plugin execution.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	// timeoutKey is the per-action section key bounding one plugin run.
	timeoutKey = "timeout"
)

// ErrTimeout is returned when a plugin run exceeds its configured timeout.
var ErrTimeout = errors.New("plugin execution timed out")

type requestIDKey struct{}

// WithRequestID attaches a request id that exec handlers forward to plugins.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id stored by WithRequestID.
func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// ExecHandler runs an executable plugin once per request, speaking the JSON
// protocol over stdin/stdout.
type ExecHandler struct {
	plugin      *Plugin
	logger      *slog.Logger
	gracePeriod time.Duration
}

// NewExecHandler creates a handler for p.
func NewExecHandler(p *Plugin) *ExecHandler {
	return &ExecHandler{
		plugin:      p,
		logger:      log.WithComponent("plugin").With("plugin", p.Name),
		gracePeriod: terminationGracePeriod,
	}
}

// Run implements Handler.
//
// No timeout applies unless the action's section sets "timeout". Context
// cancellation terminates the process the same way a timeout does.
func (h *ExecHandler) Run(ctx context.Context, section config.Section, args []string) (Result, error) {
	timeout, err := section.Duration(timeoutKey)
	if err != nil {
		return Result{}, fmt.Errorf("invalid timeout: %w", err)
	}

	requestID, ok := RequestIDFrom(ctx)
	if !ok {
		requestID = uuid.NewString()
	}

	req := &protocol.Request{
		Protocol:  protocol.Version,
		RequestID: requestID,
		Action:    section.Name(),
		Args:      args,
		Config:    section.Map(),
	}

	logger := log.WithAction(log.WithRequest(h.logger, requestID), section.Name())
	resp, stderr, err := h.spawn(ctx, req, timeout, logger)
	if stderr != "" {
		logger.Debug("plugin stderr", "stderr", stderr)
	}
	if err != nil {
		return Result{}, err
	}

	for _, entry := range resp.Logs {
		logger.Info("plugin log", "level", entry.Level, "message", entry.Message)
	}

	if !resp.OK() {
		return Failed(resp.Error), nil
	}
	return Succeeded(resp.Detail), nil
}

// spawn starts the plugin subprocess, writes the request to stdin, and reads the response from stdout.
// Returns the response, stderr output, and any error.
func (h *ExecHandler) spawn(
	ctx context.Context,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	// A nil channel never fires, which is what "no timeout" means.
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	// Don't use CommandContext - termination is managed below.
	cmd := exec.Command(h.plugin.Entrypoint)
	cmd.Dir = h.plugin.Path

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning plugin", "entrypoint", h.plugin.Entrypoint, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutC:
		logger.Warn("plugin execution timed out, sending SIGTERM", "timeout", timeout)
		h.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), fmt.Errorf("%w after %v", ErrTimeout, timeout)

	case <-ctx.Done():
		logger.Warn("plugin run cancelled, sending SIGTERM")
		h.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())

		// The plugin may exit without reading stdin; only report the write
		// failure if there is no usable response either.
		werr := <-writeErr

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
		}

		resp, rawBytes, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			if werr != nil {
				return nil, stderrStr, werr
			}
			logger.Error("failed to decode plugin response", "error", err, "stdout", string(rawBytes))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}

		return resp, stderrStr, nil
	}
}

// terminate sends SIGTERM, waits the grace period, then SIGKILL.
func (h *ExecHandler) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(h.gracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("plugin exited after SIGTERM")
	case <-grace.C:
		logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
