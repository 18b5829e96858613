package plugin

import (
	"context"

	"github.com/mattjoyce/ccgateway/internal/config"
)

//go:generate mockgen -destination=mocks/mock_handler.go -package=mocks github.com/mattjoyce/ccgateway/internal/plugin Handler

// Handler is the single capability every action provides.
//
// Run receives the action's configuration section verbatim and the request
// arguments after the action name. A returned error is treated as a failure
// whose detail is the error text.
type Handler interface {
	Run(ctx context.Context, section config.Section, args []string) (Result, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, section config.Section, args []string) (Result, error)

// Run calls f.
func (f HandlerFunc) Run(ctx context.Context, section config.Section, args []string) (Result, error) {
	return f(ctx, section, args)
}

// Result is what a handler reports. Failures must carry a Detail.
type Result struct {
	OK     bool
	Detail string
}

// Succeeded builds a successful Result.
func Succeeded(detail string) Result {
	return Result{OK: true, Detail: detail}
}

// Failed builds a failed Result.
func Failed(detail string) Result {
	return Result{OK: false, Detail: detail}
}
