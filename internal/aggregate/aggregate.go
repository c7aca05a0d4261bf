// Package aggregate implements primary/secondary failover for each data kind.
package aggregate

import (
	"context"
	"fmt"

	"github.com/martowasser/ultralight-expense-tracker-sub001/internal/provider"
)

// Stage is one provider call in a failover chain. A zero Stage is skipped.
type Stage[T any] struct {
	Name  string
	Fetch func(ctx context.Context, keys []string) ([]T, error)
}

// Outcome is the merged result of a failover run.
type Outcome[T any] struct {
	Items  []T
	Errors []string
	// Missing lists requested keys that neither stage resolved.
	Missing []string
	// Fallback is set when the secondary stage was consulted.
	Fallback bool
}

// Failover asks primary for every key, then asks secondary for exactly the
// keys primary left unresolved. Keys are compared after NormalizeSymbol.
// Items for keys that were not requested, or that are already resolved, are
// dropped, so each key appears at most once in Items. Errors and panics from
// either stage end up in Errors; Failover itself never fails.
func Failover[T any](ctx context.Context, keys []string, primary, secondary Stage[T], keyOf func(T) string) Outcome[T] {
	out := Outcome[T]{Items: []T{}, Errors: []string{}, Missing: []string{}}

	requested := make(map[string]bool, len(keys))
	order := make([]string, 0, len(keys))
	for _, k := range keys {
		k = provider.NormalizeSymbol(k)
		if k == "" || requested[k] {
			continue
		}
		requested[k] = true
		order = append(order, k)
	}
	if len(order) == 0 {
		return out
	}

	resolved := make(map[string]bool, len(order))
	collect := func(items []T) {
		for _, it := range items {
			k := provider.NormalizeSymbol(keyOf(it))
			if !requested[k] || resolved[k] {
				continue
			}
			resolved[k] = true
			out.Items = append(out.Items, it)
		}
	}

	if primary.Fetch != nil {
		items, err := run(ctx, primary, order)
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
		}
		collect(items)
	}

	gaps := unresolved(order, resolved)
	if len(gaps) > 0 && secondary.Fetch != nil {
		out.Fallback = true
		items, err := run(ctx, secondary, gaps)
		if err != nil {
			out.Errors = append(out.Errors, err.Error())
		}
		collect(items)
		gaps = unresolved(order, resolved)
	}
	out.Missing = gaps
	return out
}

func run[T any](ctx context.Context, s Stage[T], keys []string) (items []T, err error) {
	defer func() {
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("%s: panic: %v", s.Name, r)
		}
	}()
	return s.Fetch(ctx, keys)
}

func unresolved(order []string, resolved map[string]bool) []string {
	gaps := make([]string, 0, len(order))
	for _, k := range order {
		if !resolved[k] {
			gaps = append(gaps, k)
		}
	}
	return gaps
}
