package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

type sentCall struct {
	Operation string
	Params    map[string]any
}

// stubTransport is a scriptable domain.LedgerTransport. failures lists the
// errors returned by successive calls before the stub starts succeeding.
type stubTransport struct {
	mu       sync.Mutex
	failures []error
	sends    []sentCall
	calls    int
	status   map[string]statusReply
	nextLink int
}

func newStubTransport(failures ...error) *stubTransport {
	return &stubTransport{failures: failures, status: make(map[string]statusReply)}
}

func (s *stubTransport) setStatus(vaultID string, collateral, debt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[vaultID] = statusReply{Collateral: collateral, Debt: debt}
}

func (s *stubTransport) popFailure() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

func (s *stubTransport) Send(_ context.Context, operation string, params map[string]any) (domain.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, sentCall{Operation: operation, Params: params})
	if err := s.popFailure(); err != nil {
		return domain.TxResult{}, err
	}
	s.nextLink++
	return domain.TxResult{Link: fmt.Sprintf("tx-%d", s.nextLink), TxID: fmt.Sprintf("id-%d", s.nextLink)}, nil
}

func (s *stubTransport) Call(_ context.Context, method string, params map[string]any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.popFailure(); err != nil {
		return err
	}
	if method != domain.QueryVaultStatus {
		return domain.Fatal(method, errors.New("unknown method"))
	}
	id, _ := params["vaultId"].(string)
	reply, ok := s.status[id]
	if !ok {
		return domain.Fatal(method, fmt.Errorf("vault %s not found", id))
	}
	raw, _ := json.Marshal(reply)
	return json.Unmarshal(raw, out)
}

func (s *stubTransport) sent() []sentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentCall(nil), s.sends...)
}

func (s *stubTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingSleeper captures backoff durations without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sleeps)
}

// newTestEngine builds an engine whose backoff is recorded instead of slept.
func newTestEngine(cfg domain.VaultConfig, tr domain.LedgerTransport, opts ...Option) (*Engine, *recordingSleeper, error) {
	e, err := NewEngine(cfg, tr, opts...)
	if err != nil {
		return nil, nil, err
	}
	rs := &recordingSleeper{}
	e.sleep = rs.sleep
	return e, rs, nil
}

var errNetwork = errors.New("connection reset")
