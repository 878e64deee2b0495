// Package storefront holds the storefront template configuration: an open,
// string-keyed attribute map with one nested filter-options group.
package storefront

import (
	"errors"
	"fmt"
	"sort"
)

// FilterOptionsKey is the one attribute whose value is a nested map. Merges into
// it combine sub-keys instead of replacing the whole map.
const FilterOptionsKey = "filterOptions"

// Filter option sub-keys.
const (
	FilterCategories  = "categories"
	FilterPriceRanges = "priceRanges"
	FilterSortOptions = "sortOptions"
)

var filterSubKeys = map[string]struct{}{
	FilterCategories:  {},
	FilterPriceRanges: {},
	FilterSortOptions: {},
}

// ErrInvalidValue is returned by Normalize for values the configuration cannot hold.
var ErrInvalidValue = errors.New("invalid configuration value")

// Configuration is the full (or partial, when used as a patch) attribute map.
// Values are string, float64 or bool, except FilterOptionsKey which holds a
// map[string]any of []any lists.
type Configuration map[string]any

// Default returns the configuration a new session starts from.
func Default() Configuration {
	return Configuration{
		FilterOptionsKey: map[string]any{
			FilterCategories:  []any{},
			FilterPriceRanges: []any{},
			FilterSortOptions: []any{},
		},
	}
}

// Clone returns a deep copy.
func (c Configuration) Clone() Configuration {
	if c == nil {
		return nil
	}
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

// Keys returns the attribute keys in sorted order.
func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns base with patch applied. Keys are overwritten one by one,
// except FilterOptionsKey whose sub-keys are merged. Neither input is modified.
func Merge(base, patch Configuration) Configuration {
	out := base.Clone()
	if out == nil {
		out = make(Configuration, len(patch))
	}
	for k, v := range patch {
		if k == FilterOptionsKey {
			out[k] = mergeFilterOptions(out[k], v)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func mergeFilterOptions(current, patch any) any {
	patchMap, ok := patch.(map[string]any)
	if !ok {
		return cloneValue(patch)
	}
	merged := make(map[string]any)
	if currentMap, ok := current.(map[string]any); ok {
		for k, v := range currentMap {
			merged[k] = cloneValue(v)
		}
	}
	for k, v := range patchMap {
		merged[k] = cloneValue(v)
	}
	return merged
}

// Normalize checks the value types of a raw decoded patch and converts Go
// numeric kinds to float64. Semantics (valid colors, URLs) are not checked.
func Normalize(raw map[string]any) (Configuration, error) {
	out := make(Configuration, len(raw))
	for k, v := range raw {
		if k == "" {
			return nil, fmt.Errorf("%w: empty key", ErrInvalidValue)
		}
		if k == FilterOptionsKey {
			fo, err := normalizeFilterOptions(v)
			if err != nil {
				return nil, err
			}
			out[k] = fo
			continue
		}
		sv, err := normalizeScalar(v)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidValue, k, err)
		}
		out[k] = sv
	}
	return out, nil
}

func normalizeFilterOptions(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an object, got %T", ErrInvalidValue, FilterOptionsKey, v)
	}
	out := make(map[string]any, len(m))
	for sub, list := range m {
		if _, known := filterSubKeys[sub]; !known {
			return nil, fmt.Errorf("%w: unknown %s group %q", ErrInvalidValue, FilterOptionsKey, sub)
		}
		items, ok := list.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s must be a list, got %T", ErrInvalidValue, FilterOptionsKey, sub, list)
		}
		norm := make([]any, 0, len(items))
		for _, item := range items {
			switch item.(type) {
			case map[string]any:
				norm = append(norm, cloneValue(item))
			default:
				sv, err := normalizeScalar(item)
				if err != nil {
					return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, FilterOptionsKey, sub, err)
				}
				norm = append(norm, sv)
			}
		}
		out[sub] = norm
	}
	return out, nil
}

func normalizeScalar(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case nil:
		return nil, errors.New("null value")
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}
