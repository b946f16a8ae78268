package local

import (
	"context"
	"sync"

	"spendwise/internal/baas"
)

const subscriptionBuffer = 64

// broker fans committed changes out to in-process subscribers.
type broker struct {
	b *Backend

	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
}

var _ baas.Realtime = (*broker)(nil)

func newBroker(b *Backend) *broker {
	return &broker{b: b, subs: make(map[*subscription]struct{})}
}

type subscription struct {
	broker *broker
	table  *tableDef
	filter *baas.Filter
	caller caller
	fn     func(baas.ChangeEvent)

	events chan baas.ChangeEvent
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// Subscribe registers fn for changes to table. The caller is fixed when
// the subscription is made; rows it could not read are never delivered.
func (br *broker) Subscribe(ctx context.Context, table string, filter *baas.Filter, fn func(baas.ChangeEvent)) (baas.Subscription, error) {
	t, err := lookup(table)
	if err != nil {
		return nil, err
	}
	if filter != nil {
		if err := t.checkColumns(filter.Column); err != nil {
			return nil, err
		}
	}
	c, err := br.b.resolveCaller(ctx)
	if err != nil {
		return nil, err
	}

	s := &subscription{
		broker: br,
		table:  t,
		filter: filter,
		caller: c,
		fn:     fn,
		events: make(chan baas.ChangeEvent, subscriptionBuffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	br.mu.Lock()
	if br.closed {
		br.mu.Unlock()
		return nil, baas.ErrRealtimeDisabled
	}
	br.subs[s] = struct{}{}
	br.mu.Unlock()

	go s.run()
	br.b.log.Debug("Realtime subscription opened", "table", table, "user_id", c.userID)
	return s, nil
}

func (s *subscription) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(ev)
		}
	}
}

func (s *subscription) wants(ev baas.ChangeEvent) bool {
	if ev.Table != s.table.name {
		return false
	}
	row := ev.Row()
	if row == nil {
		return false
	}
	if s.filter != nil && !matches(*s.filter, row) {
		return false
	}
	return visible(s.table, s.caller, row)
}

// Unsubscribe stops delivery. It does not wait when called from fn itself.
func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (br *broker) dispatch(ev baas.ChangeEvent) {
	br.mu.RLock()
	defer br.mu.RUnlock()
	for s := range br.subs {
		if !s.wants(ev) {
			continue
		}
		select {
		case s.events <- ev:
		default:
			br.b.log.Warn("Realtime subscriber too slow, dropping event",
				"table", ev.Table, "type", string(ev.Type), "user_id", s.caller.userID)
		}
	}
}

func (br *broker) close() {
	br.mu.Lock()
	subs := make([]*subscription, 0, len(br.subs))
	for s := range br.subs {
		subs = append(subs, s)
	}
	br.closed = true
	br.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
		<-s.exited
	}
}
