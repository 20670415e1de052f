// Command parkedstate lists, inspects, commits and discards transactions
// parked in a snapshot store by core.ParkTransaction.
//
//	parkedstate list [-prefix p]
//	parkedstate inspect -mapping mapping.yaml KEY
//	parkedstate commit -mapping mapping.yaml [-keep] [-metrics FILE] KEY
//	parkedstate discard KEY
//
// The snapshot store is selected with GRAPHCORE_BLOB_* and the storage
// provider used by commit with GRAPHCORE_STORAGE_*. With -metrics, commit
// writes its Prometheus metrics to FILE in the text exposition format.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"graphcore/internal/blob"
	"graphcore/internal/core"
	"graphcore/internal/infra/persistence/memory"
	"graphcore/internal/observability"
	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

var (
	exitFunc  = os.Exit
	openStore = blob.Open
)

const usage = "usage: parkedstate list|inspect|commit|discard [flags] [KEY]"

func main() {
	code := cli(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet("parkedstate "+cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	prefix := fs.String("prefix", "", "only list keys with this prefix")
	mappingPath := fs.String("mapping", "", "path to the mapping yaml")
	keep := fs.Bool("keep", false, "keep the snapshot after a successful commit")
	verbose := fs.Bool("v", false, "log transaction events to stderr")
	metricsPath := fs.String("metrics", "", "write commit metrics to this file")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	var run func(context.Context, blob.Store) error
	switch cmd {
	case "list":
		run = func(ctx context.Context, store blob.Store) error { return list(ctx, store, *prefix, stdout) }
	case "inspect", "commit", "discard":
		if fs.NArg() != 1 {
			_, _ = fmt.Fprintf(stderr, "%s needs exactly one key\n", cmd)
			return 2
		}
		key := fs.Arg(0)
		switch cmd {
		case "inspect":
			run = func(ctx context.Context, store blob.Store) error {
				return inspect(ctx, store, key, *mappingPath, stdout)
			}
		case "commit":
			logger := slog.New(slog.DiscardHandler)
			if *verbose {
				logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
			}
			run = func(ctx context.Context, store blob.Store) error {
				return commit(ctx, store, key, *mappingPath, *keep, *metricsPath, logger, stdout)
			}
		default:
			run = func(ctx context.Context, store blob.Store) error { return discard(ctx, store, key, stdout) }
		}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s\n", cmd, usage)
		return 2
	}

	store, err := openStore(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "open snapshot store: %v\n", err)
		return 1
	}
	if err := run(ctx, store); err != nil {
		_, _ = fmt.Fprintf(stderr, "parkedstate %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func list(ctx context.Context, store blob.Store, prefix string, out io.Writer) error {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "KEY\tBYTES\tTRANSACTION\tOBJECTS")
	for _, info := range infos {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", info.Key, info.Size, info.Metadata["transaction"], info.Metadata["objects"])
	}
	return tw.Flush()
}

func loadMapping(path string) (*mapping.Configuration, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("-mapping is required")
	}
	return mapping.LoadYAMLFile(path)
}

type valueChange struct {
	Original any `json:"original"`
	Current  any `json:"current"`
}

type objectReport struct {
	ID      string                 `json:"id"`
	State   domain.StateType       `json:"state"`
	Changes map[string]valueChange `json:"changes,omitempty"`
}

type report struct {
	Key             string         `json:"key"`
	Transaction     string         `json:"transaction"`
	ApplicationData map[string]any `json:"application_data,omitempty"`
	Objects         []objectReport `json:"objects"`
}

// inspect restores the snapshot against an empty in-memory provider so that
// nothing is read from the real storage.
func inspect(ctx context.Context, store blob.Store, key, mappingPath string, out io.Writer) error {
	cfg, err := loadMapping(mappingPath)
	if err != nil {
		return err
	}
	tx, err := core.RestoreTransaction(ctx, store, key, core.WithMapping(cfg), core.WithStorage(memory.NewStore()))
	if err != nil {
		return err
	}
	r := report{Key: key, Transaction: tx.ID().String(), ApplicationData: tx.ApplicationData(), Objects: []objectReport{}}
	objects := tx.EnlistedObjects()
	slices.SortFunc(objects, func(a, b *core.DomainObject) int { return strings.Compare(a.ID().String(), b.ID().String()) })
	for _, obj := range objects {
		o := objectReport{ID: obj.ID().String(), State: tx.ObjectState(obj)}
		if o.State == domain.StateChanged || o.State == domain.StateNew {
			if o.Changes, err = changes(ctx, tx, cfg, obj); err != nil {
				return err
			}
		}
		r.Objects = append(r.Objects, o)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func changes(ctx context.Context, tx *core.ClientTransaction, cfg *mapping.Configuration, obj *core.DomainObject) (map[string]valueChange, error) {
	class, err := cfg.Class(obj.ClassID())
	if err != nil {
		return nil, err
	}
	out := map[string]valueChange{}
	for _, prop := range class.Properties() {
		current, err := tx.GetValue(ctx, obj, prop.Name)
		if err != nil {
			return nil, err
		}
		original, err := tx.GetOriginalValue(ctx, obj, prop.Name)
		if err != nil {
			return nil, err
		}
		if !domain.ValuesEqual(current, original) {
			out[prop.Name] = valueChange{Original: original, Current: current}
		}
	}
	return out, nil
}

func commit(ctx context.Context, store blob.Store, key, mappingPath string, keep bool, metricsPath string, logger *slog.Logger, out io.Writer) (err error) {
	cfg, err := loadMapping(mappingPath)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetricsListener(reg)
	if err != nil {
		return err
	}
	provider, err := core.OpenStorageProvider(ctx)
	if err != nil {
		return err
	}
	if c, ok := provider.(io.Closer); ok {
		defer func() {
			if closeErr := c.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
	}
	tx, err := core.RestoreTransaction(ctx, store, key,
		core.WithMapping(cfg),
		core.WithStorage(provider),
		core.WithLogger(logger),
		core.WithExtension(observability.NewLoggingListener(logger)),
		core.WithExtension(metrics),
	)
	if err != nil {
		return err
	}
	changed := 0
	for _, obj := range tx.EnlistedObjects() {
		if s := tx.ObjectState(obj); s == domain.StateNew || s == domain.StateChanged || s == domain.StateDeleted {
			changed++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "committed %s: %d object(s)\n", key, changed)
	if metricsPath != "" {
		if err := prometheus.WriteToTextfile(metricsPath, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if keep {
		return nil
	}
	if _, err := store.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove committed snapshot: %w", err)
	}
	return nil
}

func discard(ctx context.Context, store blob.Store, key string, out io.Writer) error {
	ok, err := store.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, blob.ErrNotFound)
	}
	_, _ = fmt.Fprintf(out, "discarded %s\n", key)
	return nil
}
