package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/ccgateway/internal/config"
	"github.com/mattjoyce/ccgateway/internal/log"
	"github.com/mattjoyce/ccgateway/internal/plugin"
	"github.com/mattjoyce/ccgateway/internal/response"
)

// missingDetail replaces the detail of a failure that did not say why it failed.
const missingDetail = "handler reported failure without detail"

// Registry resolves action names to handlers.
type Registry interface {
	Get(name string) (plugin.Action, bool)
}

// SectionSource supplies the configuration section for an action.
type SectionSource interface {
	Section(name string) config.Section
}

// Recorder receives dispatch measurements.
type Recorder interface {
	RequestStarted()
	RequestFinished(token response.Token)
	HandlerObserved(action string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RequestStarted()                       {}
func (nopRecorder) RequestFinished(response.Token)        {}
func (nopRecorder) HandlerObserved(string, time.Duration) {}

// Options tune a Worker.
type Options struct {
	// Verbose logs every request stage, not just failures.
	Verbose bool
	// Logger defaults to the global logger with component=dispatch.
	Logger *slog.Logger
	// Recorder defaults to a no-op.
	Recorder Recorder
}

// Worker dispatches requests to registered handlers.
type Worker struct {
	registry Registry
	sections SectionSource
	verbose  bool
	logger   *slog.Logger
	recorder Recorder
}

// New creates a Worker.
func New(reg Registry, sections SectionSource, opts Options) *Worker {
	w := &Worker{
		registry: reg,
		sections: sections,
		verbose:  opts.Verbose,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
	if w.logger == nil {
		w.logger = log.WithComponent("dispatch")
	}
	if w.recorder == nil {
		w.recorder = nopRecorder{}
	}
	return w
}

// Handle runs the request in payload and returns its reply token.
func (w *Worker) Handle(ctx context.Context, payload string) response.Token {
	requestID := uuid.NewString()
	logger := log.WithRequest(w.logger, requestID)

	w.recorder.RequestStarted()
	outcome := w.dispatch(plugin.WithRequestID(ctx, requestID), payload, logger)
	token := response.Encode(outcome)
	w.recorder.RequestFinished(token)

	return token
}

func (w *Worker) dispatch(ctx context.Context, payload string, logger *slog.Logger) response.Outcome {
	fields := strings.Fields(payload)
	if len(fields) < 2 {
		logger.Info("not enough parameters", "request", payload)
		return response.Outcome{Kind: response.MalformedRequest}
	}

	name := fields[0]
	logger = log.WithAction(logger, name)
	if w.verbose {
		logger.Info("processing action", "request", payload)
	}

	action, ok := w.registry.Get(name)
	if !ok {
		if w.verbose {
			logger.Info("action not found")
		}
		return response.Outcome{Kind: response.ActionNotFound}
	}

	var section config.Section
	if w.sections != nil {
		section = w.sections.Section(name)
	} else {
		section = config.NewSection(name, nil)
	}

	if w.verbose {
		logger.Info("dispatching request", "args", len(fields)-1)
	}

	start := time.Now()
	outcome := w.invoke(ctx, action, section, fields[1:], logger)
	w.recorder.HandlerObserved(name, time.Since(start))

	if outcome.Kind == response.Failure {
		logger.Warn("request failed", "request", payload, "detail", outcome.Detail)
		return outcome
	}
	if w.verbose {
		logger.Info("request succeeded", "request", payload, "elapsed", time.Since(start))
	}
	return outcome
}

// invoke is the failure boundary: a returned error, a failed result or a
// panic all become a Failure with a non-empty detail.
func (w *Worker) invoke(ctx context.Context, action plugin.Action, section config.Section, args []string, logger *slog.Logger) (out response.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "panic", fmt.Sprint(r))
			out = failure(fmt.Sprintf("panic: %v", r), logger)
		}
	}()

	result, err := action.Handler.Run(ctx, section, args)
	if err != nil {
		return failure(err.Error(), logger)
	}
	if !result.OK {
		return failure(result.Detail, logger)
	}
	return response.Outcome{Kind: response.Success, Detail: result.Detail}
}

func failure(detail string, logger *slog.Logger) response.Outcome {
	if strings.TrimSpace(detail) == "" {
		logger.Error("handler failed without detail")
		detail = missingDetail
	}
	return response.Outcome{Kind: response.Failure, Detail: detail}
}
