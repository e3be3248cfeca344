package saga

import (
	"context"
	"errors"
)

type journalKey struct{}

// WithJournal attaches s so storage adapters can record the inverse of each
// mutation they apply inside a unit of work.
func WithJournal(ctx context.Context, s *Saga) context.Context {
	return context.WithValue(ctx, journalKey{}, s)
}

func JournalFrom(ctx context.Context) *Saga {
	s, _ := ctx.Value(journalKey{}).(*Saga)
	return s
}

// Record adds an inverse to the journal carried by ctx. Outside a unit of
// work it does nothing.
func Record(ctx context.Context, step string, fn func(ctx context.Context) error) {
	if s := JournalFrom(ctx); s != nil {
		s.Add(step, fn)
	}
}

// Transactor gives stores without native transactions all-or-nothing units of
// work: on error every recorded inverse is applied newest first.
type Transactor struct {
	Name string
}

func (t Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if JournalFrom(ctx) != nil {
		return fn(ctx)
	}
	name := t.Name
	if name == "" {
		name = "tx"
	}
	s := New(name)
	if err := fn(WithJournal(ctx, s)); err != nil {
		if cerr := s.Compensate(ctx); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}
	s.Forget()
	return nil
}
