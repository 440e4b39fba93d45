// Package validation evaluates declarative per-field constraints against a
// request payload and reports localized, label-prefixed errors.
//
// Rules are built with the [Field] DSL and grouped into a [RuleSet]. A
// RuleSet keeps its fields in declaration order, which is also the order in
// which errors are reported.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matt-riley/tenantdesk/internal/i18n"
)

// Kind identifies a constraint variant.
type Kind string

const (
	KindRequired  Kind = "required"
	KindOptional  Kind = "optional"
	KindType      Kind = "type"
	KindMinLength Kind = "min_length"
	KindMaxLength Kind = "max_length"
)

// ValueType is the argument of a TypeIs constraint.
type ValueType string

const (
	TypeNumber  ValueType = "number"
	TypeInteger ValueType = "integer"
	TypeString  ValueType = "string"
	TypeBoolean ValueType = "boolean"
	TypeEmail   ValueType = "email"
	TypePhone   ValueType = "phone"
	TypeDate    ValueType = "date"
	TypeID      ValueType = "id"
	TypeIDList  ValueType = "id_list"
)

// Constraint is one check applied to a field value. Only the fields that
// belong to Kind are meaningful.
type Constraint struct {
	Kind Kind
	Type ValueType
	N    int
}

// Required fails when the value is absent, null, or an empty string.
func Required() Constraint { return Constraint{Kind: KindRequired} }

// Optional passes and skips every later constraint when the value is absent,
// null, or an empty string.
func Optional() Constraint { return Constraint{Kind: KindOptional} }

// TypeIs fails when the value cannot be read as t.
func TypeIs(t ValueType) Constraint { return Constraint{Kind: KindType, Type: t} }

// MinLength fails when a string value has fewer than n characters.
func MinLength(n int) Constraint { return Constraint{Kind: KindMinLength, N: n} }

// MaxLength fails when a string value has more than n characters.
func MaxLength(n int) Constraint { return Constraint{Kind: KindMaxLength, N: n} }

func (c Constraint) String() string {
	switch c.Kind {
	case KindType:
		return fmt.Sprintf("type(%s)", c.Type)
	case KindMinLength, KindMaxLength:
		return fmt.Sprintf("%s(%d)", c.Kind, c.N)
	default:
		return string(c.Kind)
	}
}

func (c Constraint) validate() error {
	switch c.Kind {
	case KindRequired, KindOptional:
		return nil
	case KindType:
		switch c.Type {
		case TypeNumber, TypeInteger, TypeString, TypeBoolean, TypeEmail, TypePhone, TypeDate, TypeID, TypeIDList:
			return nil
		default:
			return fmt.Errorf("unknown value type %q", c.Type)
		}
	case KindMinLength, KindMaxLength:
		if c.N < 0 {
			return fmt.Errorf("%s must be >= 0", c.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown constraint kind %q", c.Kind)
	}
}

// Label is the bilingual display name of a field.
type Label struct {
	EN string
	AR string
}

// In returns the label text for locale, falling back to English.
func (l Label) In(locale i18n.Locale) string {
	if locale == i18n.Arabic && l.AR != "" {
		return l.AR
	}
	return l.EN
}

// FieldRule is the ordered constraint list for one payload field.
type FieldRule struct {
	Name        string
	Label       Label
	Constraints []Constraint
}

// RuleSet is an ordered, immutable collection of field rules with unique
// names. The zero value has no fields and accepts every payload.
type RuleSet struct {
	fields []FieldRule
}

var errEmptyFieldName = errors.New("field name is required")

// NewRuleSet validates and freezes rules in the order given.
func NewRuleSet(rules ...FieldRule) (RuleSet, error) {
	seen := make(map[string]struct{}, len(rules))
	fields := make([]FieldRule, 0, len(rules))
	for _, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return RuleSet{}, errEmptyFieldName
		}
		if _, dup := seen[name]; dup {
			return RuleSet{}, fmt.Errorf("duplicate field %q", name)
		}
		seen[name] = struct{}{}

		for _, c := range rule.Constraints {
			if err := c.validate(); err != nil {
				return RuleSet{}, fmt.Errorf("field %q: %w", name, err)
			}
		}

		fields = append(fields, FieldRule{
			Name:        name,
			Label:       rule.Label,
			Constraints: append([]Constraint(nil), rule.Constraints...),
		})
	}
	return RuleSet{fields: fields}, nil
}

// Fields returns a copy of the rules in declaration order.
func (rs RuleSet) Fields() []FieldRule {
	out := make([]FieldRule, len(rs.fields))
	for i, f := range rs.fields {
		out[i] = FieldRule{
			Name:        f.Name,
			Label:       f.Label,
			Constraints: append([]Constraint(nil), f.Constraints...),
		}
	}
	return out
}

// Names returns the field names in declaration order.
func (rs RuleSet) Names() []string {
	names := make([]string, len(rs.fields))
	for i, f := range rs.fields {
		names[i] = f.Name
	}
	return names
}

// Len reports the number of fields.
func (rs RuleSet) Len() int { return len(rs.fields) }

// Outcome is the verdict of one evaluation.
type Outcome struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}
