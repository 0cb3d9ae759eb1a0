// Package storage loads rule definitions from their source of record. The
// engine only reads; the write operations exist so the operational API can
// pass rule management through to the document store.
package storage

import (
	"context"
	"errors"

	"github.com/healthstack/healthwatch/internal/rules"
)

// RuleStore serves rule definitions.
type RuleStore interface {
	Definitions(ctx context.Context) ([]rules.Definition, error)
	DefinitionsForTenant(ctx context.Context, tenant string) ([]rules.Definition, error)
}

// RuleWriter mutates rule definitions. Only stores with a writable backend
// implement it.
type RuleWriter interface {
	SaveDefinition(ctx context.Context, def rules.Definition) (rules.Definition, error)
	DeleteDefinition(ctx context.Context, tenant, id string) error
}

// ErrReadOnly is returned by write operations on read-only stores.
var ErrReadOnly = errors.New("rule store is read-only")
