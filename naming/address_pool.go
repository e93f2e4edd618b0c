package naming

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/naming/clog"
	"github.com/ceyewan/naming/transport"
	"github.com/ceyewan/naming/xerrors"
)

const (
	// breakerFailures 连续失败多少次后熔断该节点
	breakerFailures = 3
	// breakerOpenTimeout 熔断后多久允许再次尝试
	breakerOpenTimeout = 30 * time.Second
)

type dialFunc func(ctx context.Context, ep transport.Endpoint) (transport.Session, error)

// addressPool 候选节点列表
//
// 拨号失败后游标移到下一个节点。每个节点有一个熔断器，
// 选择节点时跳过已熔断的节点；全部熔断时仍按游标拨号，不让客户端无节点可用。
type addressPool struct {
	mu        sync.Mutex
	endpoints []transport.Endpoint
	breakers  []*gobreaker.CircuitBreaker[transport.Session]
	cursor    int
	logger    clog.Logger
}

func newAddressPool(endpoints []transport.Endpoint, logger clog.Logger) *addressPool {
	p := &addressPool{
		endpoints: append([]transport.Endpoint(nil), endpoints...),
		breakers:  make([]*gobreaker.CircuitBreaker[transport.Session], len(endpoints)),
		logger:    logger,
	}
	for i, ep := range endpoints {
		p.breakers[i] = gobreaker.NewCircuitBreaker[transport.Session](gobreaker.Settings{
			Name:        ep.String(),
			MaxRequests: 1,
			Timeout:     breakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("endpoint breaker state changed",
					clog.String("endpoint", name),
					clog.String("from", from.String()),
					clog.String("to", to.String()))
			},
		})
	}
	return p
}

// pick 从游标开始选择第一个未熔断的节点，返回下标以及是否绕过熔断器
func (p *addressPool) pick() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.breakers[idx].State() != gobreaker.StateOpen {
			p.cursor = idx
			return idx, false
		}
	}
	return p.cursor, true
}

// advance 游标从 idx 移到下一个节点
func (p *addressPool) advance(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cursor == idx {
		p.cursor = (idx + 1) % len(p.endpoints)
	}
}

// dial 选择一个节点并拨号，失败时轮换到下一个节点
func (p *addressPool) dial(ctx context.Context, fn dialFunc) (transport.Endpoint, transport.Session, error) {
	idx, bypass := p.pick()
	ep := p.endpoints[idx]

	var (
		sess transport.Session
		err  error
	)
	if bypass {
		sess, err = fn(ctx, ep)
	} else {
		sess, err = p.breakers[idx].Execute(func() (transport.Session, error) {
			return fn(ctx, ep)
		})
		if xerrors.Is(err, gobreaker.ErrOpenState) || xerrors.Is(err, gobreaker.ErrTooManyRequests) {
			sess, err = fn(ctx, ep)
		}
	}

	if err != nil {
		p.advance(idx)
		return ep, nil, err
	}
	return ep, sess, nil
}
