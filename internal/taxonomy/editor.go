// Package taxonomy reconciles edits of the label taxonomy (colour schemes,
// label-class groups, label classes and their colours) against the store.
//
// Every operation runs as one store transaction: it either commits all of
// its writes or none of them.
package taxonomy

import (
	"context"
	"errors"
	"fmt"

	slogcontext "github.com/veqryn/slog-context"

	"labeller/api/internal/store"
)

type Kind string

const (
	KindColourScheme Kind = "colour_scheme"
	KindGroup        Kind = "group"
	KindLabelClass   Kind = "label_class"
)

type Store interface {
	RunInTx(ctx context.Context, fn func(tx store.Tx) error) error
	View(ctx context.Context, fn func(tx store.Tx) error) error
}

// TempIDLedger remembers which real id a temporary token was given by an
// earlier committed submission.
type TempIDLedger interface {
	Lookup(ctx context.Context, kind Kind, token string) (int64, bool, error)
	Remember(ctx context.Context, kind Kind, mapping map[string]int64) error
}

type Editor struct {
	store  Store
	ledger TempIDLedger
}

type Option func(*Editor)

// WithLedger makes resubmitted temporary tokens update the records they
// created before instead of creating duplicates.
func WithLedger(ledger TempIDLedger) Option {
	return func(e *Editor) {
		e.ledger = ledger
	}
}

func NewEditor(s Store, opts ...Option) *Editor {
	e := &Editor{store: s}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result describes what a committed operation did.
type Result struct {
	IDMapping           map[string]int64
	GroupIDMapping      map[string]int64
	LabelClassIDMapping map[string]int64

	Created        map[Kind]int
	SkippedColours int
	Changed        bool
}

func newResult() Result {
	return Result{Created: map[Kind]int{}}
}

func (r *Result) noteCreated(kind Kind) {
	r.Created[kind]++
	r.Changed = true
}

func (r *Result) mapping(kind Kind) map[string]int64 {
	switch kind {
	case KindColourScheme:
		return r.IDMapping
	case KindGroup:
		return r.GroupIDMapping
	default:
		return r.LabelClassIDMapping
	}
}

// resolve returns the id of the record ref targets, or nil when a new record
// must be created. Only New refs can create records.
func (e *Editor) resolve(ctx context.Context, tx store.Tx, kind Kind, ref NodeRef) (*int64, error) {
	switch {
	case ref.IsExisting():
		id := ref.ID()
		return &id, nil
	case !ref.IsNew():
		return nil, fmt.Errorf("resolve %s: missing id: %w", kind, ErrInvalidIdentifier)
	case e.ledger == nil:
		return nil, nil
	}

	id, ok, err := e.ledger.Lookup(ctx, kind, ref.Token())
	if err != nil {
		slogcontext.FromCtx(ctx).WarnContext(ctx, "temp id lookup failed", "kind", kind, "token", ref.Token(), "error", err)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}

	switch kind {
	case KindColourScheme:
		_, err = tx.GetColourScheme(ctx, id)
	case KindGroup:
		_, err = tx.GetGroup(ctx, id)
	default:
		_, err = tx.GetLabelClass(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// remember records the committed mappings. Failures are logged only since
// the submission itself already succeeded.
func (e *Editor) remember(ctx context.Context, res Result) {
	if e.ledger == nil {
		return
	}
	for _, kind := range []Kind{KindColourScheme, KindGroup, KindLabelClass} {
		mapping := res.mapping(kind)
		if len(mapping) == 0 {
			continue
		}
		if err := e.ledger.Remember(ctx, kind, mapping); err != nil {
			slogcontext.FromCtx(ctx).WarnContext(ctx, "temp id remember failed", "kind", kind, "error", err)
		}
	}
}
