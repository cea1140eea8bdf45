package domain

import "context"

// LedgerTransport is the only gateway to the external ledger. Send submits
// a state-mutating operation; Call runs a read-only query and decodes the
// reply into out. Implementations must be safe for concurrent use and should
// return *TransportError so callers can tell transient failures from
// rejections.
type LedgerTransport interface {
	Send(ctx context.Context, operation string, params map[string]any) (TxResult, error)
	Call(ctx context.Context, method string, params map[string]any, out any) error
}
