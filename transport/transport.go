// Package transport carries sync requests to the authoritative farm
// server and normalizes what comes back into an Evaluation.
package transport

import (
	"context"

	"github.com/jgaehring/field-kit/filter"
)

type Connectivity int32

const (
	StatusUnknown Connectivity = iota
	StatusOnline
	StatusLimited
	StatusOffline
)

func (c Connectivity) String() string {
	return []string{"unknown", "online", "limited", "offline"}[c]
}

// Scope names one sub-request of a bulk sync that failed but may be
// retried out of band.
type Scope struct {
	Kind   string        `json:"kind"`
	Type   string        `json:"type,omitempty"`
	Filter filter.Filter `json:"filter,omitempty"`
}

// Evaluation is the normalized outcome of one sync round trip.
type Evaluation struct {
	LoginRequired bool             `json:"login_required,omitempty"`
	Connectivity  Connectivity     `json:"connectivity"`
	Repeatable    []Scope          `json:"repeatable,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
	Data          []map[string]any `json:"data,omitempty"`
}

// Request is one sync call: an optional record to push and a filter
// scoping what to fetch.
type Request struct {
	Record map[string]any `json:"record,omitempty"`
	Filter filter.Filter  `json:"filter,omitempty"`
}

type Transport interface {
	Sync(ctx context.Context, kind string, req Request) (Evaluation, error)
}
