// Package dashboard runs the fetch, sort, render and count pipeline and
// publishes each result to a view.
package dashboard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phillip-england/registro/internal/chrono"
	"github.com/phillip-england/registro/internal/debounce"
	"github.com/phillip-england/registro/internal/registro"
	"github.com/phillip-england/registro/internal/shift"
	"github.com/phillip-england/registro/internal/table"
)

const refreshTimeout = 15 * time.Second

type Lister interface {
	List(ctx context.Context) (*registro.ListResult, error)
	Clearer
}

// Clearer empties the dashboard on the server.
type Clearer interface {
	ClearAll(ctx context.Context, senha string) (*registro.Result, error)
}

// View receives render results. Reload asks for a full page reload instead of
// a partial update.
type View interface {
	Publish(s Snapshot)
	Reload()
}

type Snapshot struct {
	Seq         uint64
	Scope       registro.Scope
	Body        table.Body
	Counters    registro.Counters
	Shift       shift.Shift
	RefreshedAt time.Time
	Err         error
}

type Options struct {
	// Interval enables periodic refreshes in Run; zero disables them.
	Interval time.Duration
	Debounce time.Duration
	Scope    registro.Scope
	Logger   *slog.Logger
	Now      func() time.Time
}

type Loop struct {
	lister   Lister
	view     View
	interval time.Duration
	scope    registro.Scope
	logger   *slog.Logger
	now      func() time.Time
	trigger  *debounce.Debouncer[struct{}]

	seq atomic.Uint64

	mu        sync.Mutex
	published uint64
	last      Snapshot
	baseCtx   context.Context
}

func New(lister Lister, view View, opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Loop{
		lister:   lister,
		view:     view,
		interval: opts.Interval,
		scope:    opts.Scope,
		logger:   logger,
		now:      now,
		baseCtx:  context.Background(),
	}
	l.trigger = debounce.New(opts.Debounce, func(struct{}) {
		ctx, cancel := context.WithTimeout(l.context(), refreshTimeout)
		defer cancel()
		_ = l.Refresh(ctx)
	})
	return l
}

// Refresh rebuilds the dashboard from a fresh list call and publishes it.
// A result that finishes after a newer refresh already published is dropped.
func (l *Loop) Refresh(ctx context.Context) error {
	seq := l.seq.Add(1)
	res, err := l.lister.List(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if seq < l.published {
		l.logger.Debug("dropping stale refresh", "seq", seq, "published", l.published)
		return err
	}

	snap := Snapshot{
		Seq:         seq,
		Scope:       l.scope,
		Shift:       shift.Current(l.now()),
		RefreshedAt: l.now(),
	}
	if err != nil {
		l.logger.Warn("refresh registros", "err", err)
		snap.Body = table.RenderError(err)
		snap.Counters = l.last.Counters
		snap.Err = err
	} else {
		sorted := chrono.Sort(res.Records)
		snap.Body = table.Render(sorted)
		if res.Counters != nil {
			snap.Counters = *res.Counters
		} else {
			snap.Counters = CountersFor(sorted)
		}
	}

	l.published = seq
	l.last = snap
	l.view.Publish(snap)
	return err
}

// Trigger requests a refresh; bursts within the debounce delay collapse into
// one.
func (l *Loop) Trigger() {
	l.trigger.Call(struct{}{})
}

// Run refreshes once, then on every tick of the configured interval and on
// triggers, until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.baseCtx = ctx
	l.mu.Unlock()
	defer l.trigger.Stop()

	_ = l.Refresh(ctx)
	if l.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = l.Refresh(ctx)
		}
	}
}

// ClearAll empties the dashboard on the server and asks the view to reload
// rather than refreshing in place.
func (l *Loop) ClearAll(ctx context.Context, senha string) (*registro.Result, error) {
	return l.ClearAllVia(ctx, l.lister, senha)
}

// ClearAllVia is ClearAll through c, for callers that sign the request with
// a token of their own.
func (l *Loop) ClearAllVia(ctx context.Context, c Clearer, senha string) (*registro.Result, error) {
	res, err := c.ClearAll(ctx, senha)
	if err != nil {
		return nil, err
	}
	l.view.Reload()
	return res, nil
}

func (l *Loop) Last() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *Loop) context() context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.baseCtx
}

// CountersFor derives totals from the records themselves.
func CountersFor(records []registro.Record) registro.Counters {
	var c registro.Counters
	for _, r := range records {
		if r.HasEntry() {
			c.Entradas++
		}
		if r.HasExit() {
			c.Saidas++
		}
		if r.SaidaPendente {
			c.Pendentes++
		}
	}
	return c
}
