package core

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"graphcore/internal/blob"
	"graphcore/internal/flatten"
)

const parkedContentType = "application/vnd.graphcore.flat+json"

// ParkTransaction serializes a root transaction and stores the encoded
// payload under key, replacing any snapshot already parked there. The
// transaction itself is left untouched.
func ParkTransaction(ctx context.Context, store blob.Store, key string, tx *ClientTransaction) (blob.Info, error) {
	data, err := SerializeTransaction(tx)
	if err != nil {
		return blob.Info{}, err
	}
	raw, err := flatten.Marshal(data)
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode transaction %s: %w", tx, err)
	}
	info, err := store.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{
		ContentType: parkedContentType,
		Metadata: map[string]string{
			"transaction": tx.ID().String(),
			"objects":     fmt.Sprint(tx.dm.containers.Len()),
		},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("park transaction %s: %w", tx, err)
	}
	tx.logger.Debug("transaction parked", "key", info.Key, "bytes", info.Size)
	return info, nil
}

// RestoreTransaction reads a snapshot written by ParkTransaction and rebuilds
// the transaction. opts must carry the mapping; storage, listeners and
// extensions are supplied the same way as for NewRootTransaction.
func RestoreTransaction(ctx context.Context, store blob.Store, key string, opts ...Option) (*ClientTransaction, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read parked transaction %s: %w", key, err)
	}
	data, err := flatten.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("decode parked transaction %s: %w", key, err)
	}
	tx, err := DeserializeTransaction(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("restore parked transaction %s: %w", key, err)
	}
	tx.logger.Debug("transaction restored", "key", key)
	return tx, nil
}
