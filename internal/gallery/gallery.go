// Package gallery assembles the request-scoped roster of matchable identities.
package gallery

import (
	"context"
	"errors"
	"sort"

	"github.com/andresmejia3/rollcall/internal/embedstore"
	"github.com/andresmejia3/rollcall/internal/logger"
	"github.com/andresmejia3/rollcall/internal/store"
	"github.com/andresmejia3/rollcall/internal/types"
)

const (
	ReasonMissingMetadata = "missing metadata"
	ReasonCorruptMetadata = "corrupt metadata"
	ReasonNoEmbeddings    = "no valid embeddings"
)

type Loader struct {
	persistence store.Persistence
	embeddings  *embedstore.Store
}

func NewLoader(p store.Persistence, e *embedstore.Store) *Loader {
	return &Loader{persistence: p, embeddings: e}
}

// Load builds the gallery from every identity on record. Identities with missing
// or corrupt metadata, or without a single valid embedding after one regeneration
// attempt, are skipped and reported. Only a listing failure aborts the load.
func (l *Loader) Load(ctx context.Context) (*types.Gallery, types.Report, error) {
	var report types.Report

	keys, err := l.persistence.ListIdentityKeys(ctx)
	if err != nil {
		return nil, report, err
	}
	sort.Strings(keys)

	g := &types.Gallery{Identities: make([]types.IdentityRecord, 0, len(keys))}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}

		meta, err := l.persistence.LoadMetadata(ctx, key)
		if err != nil {
			reason := ReasonMissingMetadata
			if errors.Is(err, store.ErrCorrupt) {
				reason = ReasonCorruptMetadata
			} else if !errors.Is(err, store.ErrNotFound) {
				reason = err.Error()
			}
			l.skip(&report, key, reason)
			continue
		}
		meta.Key = key

		valid, needsRegen := l.embeddings.Inspect(ctx, key)
		if needsRegen {
			if l.embeddings.Regenerate(ctx, key) {
				report.Regenerated = append(report.Regenerated, key)
				valid = l.embeddings.Load(ctx, key)
			}
		}
		if len(valid) == 0 {
			l.skip(&report, key, ReasonNoEmbeddings)
			continue
		}

		g.Identities = append(g.Identities, types.IdentityRecord{IdentityMeta: meta, Embeddings: valid})
	}
	return g, report, nil
}

func (l *Loader) skip(report *types.Report, key, reason string) {
	report.Skipped = append(report.Skipped, types.SkippedIdentity{Key: key, Reason: reason})
	logger.Warning("skipping identity",
		logger.LoggerOptions{Key: "identity", Data: key},
		logger.LoggerOptions{Key: "reason", Data: reason})
}
