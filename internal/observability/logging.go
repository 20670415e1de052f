package observability

import (
	"context"
	"log/slog"

	"graphcore/internal/core"
	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// LoggingExtensionKey is the key under which the logging extension registers.
const LoggingExtensionKey = "graphcore.logging"

// LoggingListener writes one structured record per lifecycle event. Loads,
// commits and rollbacks log at Info; object and relation changes at Debug.
type LoggingListener struct {
	core.ListenerBase
	logger *slog.Logger
}

var _ core.Extension = (*LoggingListener)(nil)

// NewLoggingListener returns a listener writing to logger, or to slog.Default
// when logger is nil.
func NewLoggingListener(logger *slog.Logger) *LoggingListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingListener{logger: logger}
}

// Key implements core.Extension.
func (l *LoggingListener) Key() string { return LoggingExtensionKey }

func (l *LoggingListener) log(level slog.Level, tx *core.ClientTransaction, msg string, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{
		slog.String("transaction", tx.ID().String()),
		slog.String("scope", scope(tx)),
	}, attrs...)
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func ids(objects []*core.DomainObject) []string {
	out := make([]string, len(objects))
	for i, obj := range objects {
		out[i] = obj.ID().String()
	}
	return out
}

func (l *LoggingListener) SubTransactionCreated(tx, sub *core.ClientTransaction) error {
	l.log(slog.LevelDebug, tx, "sub transaction created", slog.String("sub", sub.ID().String()))
	return nil
}

func (l *LoggingListener) TransactionDiscard(tx *core.ClientTransaction) error {
	l.log(slog.LevelDebug, tx, "transaction discarded")
	return nil
}

func (l *LoggingListener) ObjectsLoading(tx *core.ClientTransaction, objectIDs []domain.ObjectID) error {
	if len(objectIDs) == 0 {
		return nil
	}
	l.log(slog.LevelDebug, tx, "loading objects", slog.Int("count", len(objectIDs)))
	return nil
}

func (l *LoggingListener) ObjectsLoaded(tx *core.ClientTransaction, objects []*core.DomainObject) error {
	l.log(slog.LevelInfo, tx, "objects loaded", slog.Int("count", len(objects)), slog.Any("ids", ids(objects)))
	return nil
}

func (l *LoggingListener) ObjectsUnloaded(tx *core.ClientTransaction, objects []*core.DomainObject) error {
	l.log(slog.LevelDebug, tx, "objects unloaded", slog.Any("ids", ids(objects)))
	return nil
}

func (l *LoggingListener) ObjectDeleted(tx *core.ClientTransaction, obj *core.DomainObject) error {
	l.log(slog.LevelDebug, tx, "object deleted", slog.String("id", obj.ID().String()))
	return nil
}

func (l *LoggingListener) PropertyValueChanged(tx *core.ClientTransaction, obj *core.DomainObject, prop *mapping.PropertyDefinition, oldValue, newValue any) error {
	l.log(slog.LevelDebug, tx, "property changed",
		slog.String("id", obj.ID().String()),
		slog.String("property", prop.Name),
		slog.Any("old", oldValue),
		slog.Any("new", newValue))
	return nil
}

func (l *LoggingListener) RelationChanged(tx *core.ClientTransaction, obj *core.DomainObject, def *mapping.RelationEndPointDefinition, oldRelated, newRelated *core.DomainObject) error {
	l.log(slog.LevelDebug, tx, "relation changed",
		slog.String("id", obj.ID().String()),
		slog.String("end_point", def.QualifiedName()),
		slog.String("old", objectID(oldRelated)),
		slog.String("new", objectID(newRelated)))
	return nil
}

func (l *LoggingListener) TransactionCommitted(tx *core.ClientTransaction, objects []*core.DomainObject) error {
	l.log(slog.LevelInfo, tx, "transaction committed", slog.Int("count", len(objects)), slog.Any("ids", ids(objects)))
	return nil
}

func (l *LoggingListener) TransactionRolledBack(tx *core.ClientTransaction, objects []*core.DomainObject) error {
	l.log(slog.LevelInfo, tx, "transaction rolled back", slog.Int("count", len(objects)))
	return nil
}

func objectID(obj *core.DomainObject) string {
	if obj == nil {
		return ""
	}
	return obj.ID().String()
}
