package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
)

var (
	ErrCancelled   = errors.New("cancelled")
	ErrUnsupported = errors.New("operation not supported")
)

// Confirmer asks the user to confirm a destructive operation.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (fn ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return fn(ctx, prompt)
}

// AlwaysConfirm accepts every prompt.
var AlwaysConfirm = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

type Operations[T, C, U any] struct {
	Create func(ctx context.Context, payload C) (T, error)
	Update func(ctx context.Context, id int, payload U) (T, error)
	Delete func(ctx context.Context, id int) error
}

// Mutator dispatches create, update and delete requests for a collection and
// refetches the collection once after every successful mutation.
type Mutator[T, C, U any] struct {
	name    string
	fetcher *Fetcher[T]
	ops     Operations[T, C, U]
	confirm Confirmer
}

func NewMutator[T, C, U any](name string, fetcher *Fetcher[T], ops Operations[T, C, U], confirm Confirmer) *Mutator[T, C, U] {
	if confirm == nil {
		confirm = AlwaysConfirm
	}

	return &Mutator[T, C, U]{
		name:    name,
		fetcher: fetcher,
		ops:     ops,
		confirm: confirm,
	}
}

func (m *Mutator[T, C, U]) Create(ctx context.Context, payload C) (T, error) {
	if m.ops.Create == nil {
		var zero T
		return zero, fmt.Errorf("create %s: %w", m.name, ErrUnsupported)
	}

	result, err := m.ops.Create(ctx, payload)
	if err != nil {
		return result, err
	}

	m.refetch(ctx)

	return result, nil
}

func (m *Mutator[T, C, U]) Update(ctx context.Context, id int, payload U) (T, error) {
	if m.ops.Update == nil {
		var zero T
		return zero, fmt.Errorf("update %s: %w", m.name, ErrUnsupported)
	}

	result, err := m.ops.Update(ctx, id, payload)
	if err != nil {
		return result, err
	}

	m.refetch(ctx)

	return result, nil
}

// Delete asks for confirmation before sending the request. A declined
// confirmation returns ErrCancelled without contacting the server.
func (m *Mutator[T, C, U]) Delete(ctx context.Context, id int) error {
	if m.ops.Delete == nil {
		return fmt.Errorf("delete %s: %w", m.name, ErrUnsupported)
	}

	ok, err := m.confirm.Confirm(ctx, fmt.Sprintf("Are you sure you want to delete this %s?", m.name))
	if err != nil {
		return err
	}
	if !ok {
		return ErrCancelled
	}

	if err = m.ops.Delete(ctx, id); err != nil {
		return err
	}

	m.refetch(ctx)

	return nil
}

func (m *Mutator[T, C, U]) refetch(ctx context.Context) {
	if m.fetcher == nil {
		return
	}

	if _, err := m.fetcher.Refresh(ctx); err != nil {
		log := logging.GetFromContext(ctx)
		log.Debug().Err(err).Msgf("refetch of %s failed after mutation", m.name)
	}
}
