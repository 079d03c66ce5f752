// Package decisionlog persists the immutable record of every routing
// decision and answers explainability queries: what was chosen, what was
// rejected and why, and which factor decided it.
package decisionlog

import (
	"context"
	"errors"
	"time"

	"github.com/cryptocrystian/modelgate/pkg/types"
)

// ErrDecisionNotFound is returned when no decision exists for an ID.
var ErrDecisionNotFound = errors.New("decision not found")

// Filter narrows History queries. Zero values match everything.
type Filter struct {
	From         *time.Time
	To           *time.Time
	TaskCategory string
	Provider     string
	Limit        int
}

// DefaultHistoryLimit bounds unfiltered history queries.
const DefaultHistoryLimit = 100

// Store is the append-only decision log contract. Record must never
// mutate or overwrite an existing decision.
type Store interface {
	Record(ctx context.Context, d *types.Decision) error

	// Get returns one decision by ID, or ErrDecisionNotFound.
	Get(ctx context.Context, id string) (*types.Decision, error)

	// History returns an organization's decisions, most recent first.
	History(ctx context.Context, orgID string, f Filter) ([]*types.Decision, error)
}

func (f Filter) matches(d *types.Decision) bool {
	if f.From != nil && d.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && d.Timestamp.After(*f.To) {
		return false
	}
	if f.TaskCategory != "" && d.TaskCategory != f.TaskCategory {
		return false
	}
	if f.Provider != "" && d.Provider != f.Provider {
		return false
	}
	return true
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Limit
}
