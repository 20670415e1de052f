package core

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"graphcore/internal/infra/persistence/memory"
	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// Option configures a root transaction.
type Option func(*options)

type options struct {
	mapping    *mapping.Configuration
	storage    domain.StorageProvider
	logger     *slog.Logger
	listeners  []TransactionListener
	extensions []Extension
	appData    map[string]any
	id         uuid.UUID
}

// WithMapping sets the class definitions. Required.
func WithMapping(cfg *mapping.Configuration) Option {
	return func(o *options) { o.mapping = cfg }
}

// WithStorage sets the storage provider. Defaults to an empty in-memory
// provider.
func WithStorage(p domain.StorageProvider) Option {
	return func(o *options) { o.storage = p }
}

// WithLogger sets the logger. Defaults to discarding everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithListener adds a listener to the root transaction's own chain.
func WithListener(l TransactionListener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithExtension adds an extension shared by the whole hierarchy.
func WithExtension(ext Extension) Option {
	return func(o *options) { o.extensions = append(o.extensions, ext) }
}

// WithApplicationData seeds the hierarchy's application data.
func WithApplicationData(key string, value any) Option {
	return func(o *options) {
		if o.appData == nil {
			o.appData = make(map[string]any)
		}
		o.appData[key] = value
	}
}

func withTransactionID(id uuid.UUID) Option {
	return func(o *options) { o.id = id }
}

// NewRootTransaction creates a root transaction. Objects may be used with any
// transaction of its hierarchy.
func NewRootTransaction(opts ...Option) (*ClientTransaction, error) {
	return newRoot(false, opts)
}

// NewBindingTransaction creates a root transaction that pins every object it
// creates or loads: such objects cannot be used through any other
// transaction, and the transaction cannot have sub-transactions.
func NewBindingTransaction(opts ...Option) (*ClientTransaction, error) {
	return newRoot(true, opts)
}

func newRoot(binding bool, opts []Option) (*ClientTransaction, error) {
	tx, err := buildRoot(binding, opts)
	if err != nil {
		return nil, err
	}
	if err := tx.events().TransactionInitialize(tx); err != nil {
		return nil, err
	}
	tx.logger.Debug("root transaction created", "binding", binding)
	return tx, nil
}

// buildRoot assembles a root transaction and its hierarchy without firing
// any event.
func buildRoot(binding bool, opts []Option) (*ClientTransaction, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mapping == nil {
		return nil, domain.ArgumentError{Argument: "mapping", Message: "a mapping configuration is required"}
	}
	if o.storage == nil {
		o.storage = memory.NewStore()
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.id == uuid.Nil {
		o.id = uuid.New()
	}
	appData := make(map[string]any, len(o.appData))
	for k, v := range o.appData {
		appData[k] = v
	}
	h := &transactionHierarchy{
		objects:    make(map[domain.ObjectID]*DomainObject),
		extensions: NewExtensionCollection(),
		appData:    appData,
		mapping:    o.mapping,
		storage:    o.storage,
		logger:     o.logger,
		binding:    binding,
	}
	var errs []error
	for _, ext := range o.extensions {
		if err := h.extensions.Add(ext); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	tx := newClientTransaction(o.id, h, nil, &rootPersistenceStrategy{storage: o.storage})
	h.root = tx
	for _, l := range o.listeners {
		tx.AddListener(l)
	}
	return tx, nil
}
