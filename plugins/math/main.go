// Command math is an executable plugin serving integer arithmetic actions.
//
// Build it next to its manifest before starting the gateway:
//
//	go build -o plugins/math/math ./plugins/math
package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/mattjoyce/ccgateway/internal/protocol"
)

func main() {
	resp := handle(os.Stdin)
	if err := protocol.EncodeResponse(os.Stdout, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "math: %v\n", err)
		os.Exit(1)
	}
}

func handle(r io.Reader) protocol.Response {
	req, err := protocol.DecodeRequest(r)
	if err != nil {
		return errResp(fmt.Sprintf("invalid request: %v", err))
	}

	operands, err := parseOperands(req.Args)
	if err != nil {
		return errResp(err.Error())
	}

	precision := asInt(req.Config["precision"], -1)

	switch strings.TrimSpace(req.Action) {
	case "add":
		sum := 0.0
		for _, v := range operands {
			sum += v
		}
		return okResp(format(sum, precision), fmt.Sprintf("added %d operands", len(operands)))
	case "multiply":
		product := 1.0
		for _, v := range operands {
			product *= v
		}
		return okResp(format(product, precision), fmt.Sprintf("multiplied %d operands", len(operands)))
	case "divide":
		if len(operands) != 2 {
			return errResp(fmt.Sprintf("divide takes 2 operands, got %d", len(operands)))
		}
		if operands[1] == 0 {
			return errResp("division by zero")
		}
		return okResp(format(operands[0]/operands[1], precision), "divided")
	default:
		return errResp(fmt.Sprintf("unknown action: %s", req.Action))
	}
}

func parseOperands(args []string) ([]float64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no operands")
	}
	out := make([]float64, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("operand %q is not a number", a)
		}
		out = append(out, v)
	}
	return out, nil
}

func format(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}

func okResp(detail, logMsg string) protocol.Response {
	return protocol.Response{
		Status: protocol.StatusOK,
		Detail: detail,
		Logs:   []protocol.LogEntry{{Level: "debug", Message: logMsg}},
	}
}

func errResp(message string) protocol.Response {
	return protocol.Response{
		Status: protocol.StatusError,
		Error:  message,
	}
}

// asInt accepts the number shapes JSON decoding produces.
func asInt(v any, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return fallback
}
