// Package amount derives the payable amount from submitted form values.
package amount

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Resolve returns the amount stored under key. A mapping or list sums its truthy
// entries; a scalar is cast to a decimal. Missing keys and uncastable values
// resolve to zero. The sign is not validated.
func Resolve(values map[string]any, key string) decimal.Decimal {
	if values == nil {
		return decimal.Zero
	}
	raw, ok := values[strings.TrimSpace(key)]
	if !ok {
		return decimal.Zero
	}

	switch v := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		total := decimal.Zero
		for _, k := range keys {
			if truthy(v[k]) {
				total = total.Add(toDecimal(v[k]))
			}
		}
		return total
	case []any:
		total := decimal.Zero
		for _, item := range v {
			if truthy(item) {
				total = total.Add(toDecimal(item))
			}
		}
		return total
	case []string:
		total := decimal.Zero
		for _, item := range v {
			if truthy(item) {
				total = total.Add(toDecimal(item))
			}
		}
		return total
	default:
		return toDecimal(v)
	}
}

// ToMinorUnits converts a currency amount to provider minor units (x100),
// rounding half away from zero.
func ToMinorUnits(value decimal.Decimal) int64 {
	return value.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts provider minor units back to a currency amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		trimmed := strings.TrimSpace(v)
		return trimmed != "" && trimmed != "0"
	case float64:
		return v != 0
	case float32:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case int32:
		return v != 0
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return err == nil && !d.IsZero()
	case decimal.Decimal:
		return !v.IsZero()
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}

func toDecimal(value any) decimal.Decimal {
	switch v := value.(type) {
	case nil:
		return decimal.Zero
	case bool:
		if v {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(v)
	case float32:
		return decimal.NewFromFloat32(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case int32:
		return decimal.NewFromInt32(v)
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case decimal.Decimal:
		return v
	case fmt.Stringer:
		d, err := decimal.NewFromString(strings.TrimSpace(v.String()))
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
