package executor

import (
	"context"

	"TradePipe/internal/domain/models"
	"TradePipe/internal/domain/repository"
)

// Publish hands actions to a message bus.
type Publish struct {
	name string
	pub  repository.ActionPublisher
}

var _ ActionExecutor = (*Publish)(nil)

// NewPublish names the executor after the bus, e.g. "kafka_executor".
func NewPublish(name string, pub repository.ActionPublisher) *Publish {
	return &Publish{name: name, pub: pub}
}

func (e *Publish) Name() string { return e.name }

func (e *Publish) Execute(ctx context.Context, a models.Action) error {
	if err := e.pub.Publish(ctx, &a); err != nil {
		return failed(e.name, err)
	}
	return nil
}

// Store persists actions.
type Store struct {
	name  string
	store repository.ActionStore
}

var _ ActionExecutor = (*Store)(nil)

// NewStore ensures the store schema exists before returning.
func NewStore(ctx context.Context, name string, store repository.ActionStore) (*Store, error) {
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return &Store{name: name, store: store}, nil
}

func (e *Store) Name() string { return e.name }

func (e *Store) Execute(ctx context.Context, a models.Action) error {
	if err := e.store.Store(ctx, &a); err != nil {
		return failed(e.name, err)
	}
	return nil
}
