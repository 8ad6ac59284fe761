// Package retry classifies exchange errors and applies per-kind retry
// policies with bounded, ctx-aware backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// Kind buckets errors by how they should be retried.
type Kind string

const (
	KindRateLimit           Kind = "rate_limit"
	KindConnection          Kind = "connection"
	KindAPI                 Kind = "api"
	KindWebSocket           Kind = "websocket"
	KindTimeout             Kind = "timeout"
	KindAuth                Kind = "auth"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindInvalidSymbol       Kind = "invalid_symbol"
	KindOrder               Kind = "order"
	KindUnknown             Kind = "unknown"
)

// ExchangeCoder is implemented by REST client errors that carry a venue
// numeric code (OKX "code" field). Codes take precedence over message
// matching.
type ExchangeCoder interface {
	ExchangeErrorCode() string
}

// binanceCodes maps futures API error codes to kinds.
var binanceCodes = map[int64]Kind{
	-1003: KindRateLimit,
	-1015: KindRateLimit,
	-1021: KindAPI,
	-1121: KindInvalidSymbol,
	-2010: KindInsufficientBalance,
	-2013: KindOrder,
	-2014: KindAuth,
	-2015: KindAuth,
	-2019: KindInsufficientBalance,
	-4003: KindOrder,
}

// okxCodes maps OKX REST codes to kinds.
var okxCodes = map[string]Kind{
	"50011": KindRateLimit,
	"50111": KindAuth,
	"50113": KindAuth,
	"51001": KindInvalidSymbol,
	"51008": KindInsufficientBalance,
	"51020": KindOrder,
	"51121": KindOrder,
}

// substring fallbacks, checked in order after typed matches.
var substrings = []struct {
	needle string
	kind   Kind
}{
	{"rate limit", KindRateLimit},
	{"too many requests", KindRateLimit},
	{"429", KindRateLimit},
	{"timeout", KindTimeout},
	{"timed out", KindTimeout},
	{"deadline exceeded", KindTimeout},
	{"websocket", KindWebSocket},
	{"connection refused", KindConnection},
	{"connection reset", KindConnection},
	{"broken pipe", KindConnection},
	{"no such host", KindConnection},
	{"eof", KindConnection},
	{"network", KindConnection},
	{"insufficient", KindInsufficientBalance},
	{"invalid symbol", KindInvalidSymbol},
	{"instrument", KindInvalidSymbol},
	{"unauthorized", KindAuth},
	{"api key", KindAuth},
	{"signature", KindAuth},
	{"order", KindOrder},
}

// Classify maps an error to a retry kind. Typed exchange codes win over
// message substrings.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := binanceCodes[apiErr.Code]; ok {
			return kind
		}
		return KindAPI
	}

	var coder ExchangeCoder
	if errors.As(err, &coder) {
		if kind, ok := okxCodes[coder.ExchangeErrorCode()]; ok {
			return kind
		}
		return KindAPI
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindConnection
	}

	msg := strings.ToLower(err.Error())
	for _, s := range substrings {
		if strings.Contains(msg, s.needle) {
			return s.kind
		}
	}
	return KindUnknown
}

// Retryable reports whether a kind is worth another attempt at all.
func (k Kind) Retryable() bool {
	switch k {
	case KindAuth, KindInsufficientBalance, KindInvalidSymbol:
		return false
	default:
		return true
	}
}
