package validation

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matt-riley/tenantdesk/internal/i18n"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 -]{5,18}[0-9]$`)
)

const dateLayout = "2006-01-02"

// Evaluate checks payload against rules and returns the verdict. Fields are
// visited in rule declaration order. Within a field the first failing
// constraint produces that field's only error, formatted as
// "<label> <message>" in locale.
//
// Evaluate is pure: it reads payload and rules and allocates a fresh Outcome.
func Evaluate(payload Payload, rules RuleSet, locale i18n.Locale) Outcome {
	var errs []string
	for _, field := range rules.fields {
		value, present := payload[field.Name]
		if msg, failed := evaluateField(field, value, present, locale); failed {
			errs = append(errs, field.Label.In(locale)+" "+msg)
		}
	}
	return Outcome{Valid: len(errs) == 0, Errors: errs}
}

func evaluateField(field FieldRule, value any, present bool, locale i18n.Locale) (string, bool) {
	absent := isAbsent(value, present)
	for _, c := range field.Constraints {
		switch c.Kind {
		case KindRequired:
			if absent {
				return i18n.Text(locale, i18n.ValidationRequired), true
			}
		case KindOptional:
			if absent {
				return "", false
			}
		case KindType:
			if !matchesType(c.Type, value) {
				return i18n.Text(locale, typeMessageKey(c.Type)), true
			}
		case KindMinLength:
			if s, ok := value.(string); ok && utf8.RuneCountInString(s) < c.N {
				return i18n.Text(locale, i18n.ValidationMinLength, c.N), true
			}
		case KindMaxLength:
			if s, ok := value.(string); ok && utf8.RuneCountInString(s) > c.N {
				return i18n.Text(locale, i18n.ValidationMaxLength, c.N), true
			}
		default:
			// NewRuleSet rejects unknown kinds.
			return i18n.Text(locale, i18n.ValidationRequired), true
		}
	}
	return "", false
}

func isAbsent(value any, present bool) bool {
	if !present || value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && s == ""
}

func typeMessageKey(t ValueType) i18n.Key {
	switch t {
	case TypeNumber:
		return i18n.ValidationNumber
	case TypeInteger:
		return i18n.ValidationInteger
	case TypeString:
		return i18n.ValidationString
	case TypeBoolean:
		return i18n.ValidationBoolean
	case TypeEmail:
		return i18n.ValidationEmail
	case TypePhone:
		return i18n.ValidationPhone
	case TypeDate:
		return i18n.ValidationDate
	case TypeID:
		return i18n.ValidationID
	case TypeIDList:
		return i18n.ValidationIDList
	default:
		return i18n.ValidationString
	}
}

func matchesType(t ValueType, value any) bool {
	switch t {
	case TypeNumber:
		_, ok := asFiniteNumber(value)
		return ok
	case TypeInteger:
		if _, ok := parseExactInt64(value); ok {
			return true
		}
		f, ok := asFiniteNumber(value)
		return ok && isWholeFinite(f) && inInt64Range(f)
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeEmail:
		s, ok := value.(string)
		return ok && emailPattern.MatchString(s)
	case TypePhone:
		s, ok := value.(string)
		return ok && phonePattern.MatchString(s)
	case TypeDate:
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(dateLayout, s)
		return err == nil
	case TypeID:
		_, ok := asPositiveID(value)
		return ok
	case TypeIDList:
		ids, ok := asIDList(value)
		return ok && len(ids) > 0
	default:
		return false
	}
}

// asFiniteNumber reads value as a finite float. Numeric strings count, so
// query-string parameters validate the same way as JSON numbers.
func asFiniteNumber(value any) (float64, bool) {
	var f float64
	switch n := value.(type) {
	case json.Number:
		parsed, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		if i, ok := asInt64(value); ok {
			return float64(i), true
		}
		if u, ok := asUint64(value); ok {
			return float64(u), true
		}
		parsed, ok := asFloat64(value)
		if !ok {
			return 0, false
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// twoTo63 is the smallest float64 above math.MaxInt64. float64(math.MaxInt64)
// rounds up to it, so range checks must exclude it explicitly.
const twoTo63 = 1 << 63

// inInt64Range reports whether the whole number f converts to int64 without
// wrapping.
func inInt64Range(f float64) bool {
	return f >= -twoTo63 && f < twoTo63
}

// asPositiveID reads value as an integer id in [1, math.MaxInt64].
func asPositiveID(value any) (int64, bool) {
	if i, ok := asInt64(value); ok {
		return i, i > 0
	}
	if u, ok := asUint64(value); ok {
		return int64(u), u > 0 && u <= math.MaxInt64
	}
	if i, ok := parseExactInt64(value); ok {
		return i, i > 0
	}
	f, ok := asFiniteNumber(value)
	if !ok || !isWholeFinite(f) || f < 1 || !inInt64Range(f) {
		return 0, false
	}
	return int64(f), true
}

// parseExactInt64 parses integer literals without a float round trip, so ids
// near math.MaxInt64 keep every digit.
func parseExactInt64(value any) (int64, bool) {
	var s string
	switch v := value.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	default:
		return 0, false
	}
	i, err := strconv.ParseInt(s, 10, 64)
	return i, err == nil
}

func asIDList(value any) ([]int64, bool) {
	switch list := value.(type) {
	case []int64:
		for _, id := range list {
			if id <= 0 {
				return nil, false
			}
		}
		return list, true
	case []any:
		ids := make([]int64, 0, len(list))
		for _, v := range list {
			id, ok := asPositiveID(v)
			if !ok {
				return nil, false
			}
			ids = append(ids, id)
		}
		return ids, true
	default:
		return nil, false
	}
}

func asInt64(value any) (int64, bool) {
	switch number := value.(type) {
	case int:
		return int64(number), true
	case int8:
		return int64(number), true
	case int16:
		return int64(number), true
	case int32:
		return int64(number), true
	case int64:
		return number, true
	default:
		return 0, false
	}
}

func asUint64(value any) (uint64, bool) {
	switch number := value.(type) {
	case uint:
		return uint64(number), true
	case uint8:
		return uint64(number), true
	case uint16:
		return uint64(number), true
	case uint32:
		return uint64(number), true
	case uint64:
		return number, true
	default:
		return 0, false
	}
}

func asFloat64(value any) (float64, bool) {
	switch number := value.(type) {
	case float32:
		return float64(number), true
	case float64:
		return number, true
	default:
		return 0, false
	}
}

func isWholeFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && math.Trunc(value) == value
}
