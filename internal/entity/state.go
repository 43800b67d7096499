package entity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// StateOf renders the current state string of e
func StateOf(e Entity) string {
	if !e.Available() {
		return StateUnavailable
	}
	return FormatState(e.Value())
}

// FormatState converts a native value into its state string
func FormatState(v any) string {
	switch x := v.(type) {
	case nil:
		return StateUnknown
	case bool:
		if x {
			return StateOn
		}
		return StateOff
	case string:
		if x == "" {
			return StateUnknown
		}
		return x
	case time.Time:
		if x.IsZero() {
			return StateUnknown
		}
		return x.UTC().Format(time.RFC3339)
	case *time.Time:
		if x == nil {
			return StateUnknown
		}
		return FormatState(*x)
	case decimal.Decimal:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case *float64:
		if x == nil {
			return StateUnknown
		}
		return strconv.FormatFloat(*x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}

// StateAttributes merges the description metadata with e's extra attributes
func StateAttributes(e Entity) map[string]any {
	desc := e.Description()
	attrs := map[string]any{
		"friendly_name": e.Name(),
	}
	if desc.Unit != "" {
		attrs["unit_of_measurement"] = desc.Unit
	}
	if desc.Icon != "" {
		attrs["icon"] = desc.Icon
	}
	if desc.DeviceClass != "" {
		attrs["device_class"] = desc.DeviceClass
	}
	if desc.StateClass != "" {
		attrs["state_class"] = desc.StateClass
	}
	if desc.Precision > 0 {
		attrs["suggested_display_precision"] = desc.Precision
	}
	for k, v := range e.Attributes() {
		attrs[k] = v
	}
	return attrs
}

// EntityID builds "<platform>.<slug>" for name
func EntityID(platform Platform, name string) string {
	return string(platform) + "." + Slugify(name)
}

// Slugify lowercases s and folds every run of non-alphanumerics into a single
// underscore.
func Slugify(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
