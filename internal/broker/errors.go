package broker

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/camuig/sigtrader/internal/exchange"
)

// classify maps an SDK error onto the exchange error taxonomy using its gRPC status.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return exchange.Transient(err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return exchange.Transient(err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Canceled:
		return exchange.Transient(err)
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), exchange.ErrNotFound)
	default:
		return &exchange.RejectedError{Code: st.Code().String(), Raw: st.Message()}
	}
}
