package validation

// FieldBuilder accumulates constraints for one field in call order.
type FieldBuilder struct {
	rule FieldRule
}

// Field starts a rule for the payload key name.
//
//	validation.Field("email", validation.Label{EN: "Email", AR: "البريد الإلكتروني"}).
//		Required().Email().MaxLength(255)
func Field(name string, label Label) *FieldBuilder {
	return &FieldBuilder{rule: FieldRule{Name: name, Label: label}}
}

func (b *FieldBuilder) add(c Constraint) *FieldBuilder {
	b.rule.Constraints = append(b.rule.Constraints, c)
	return b
}

func (b *FieldBuilder) Required() *FieldBuilder { return b.add(Required()) }
func (b *FieldBuilder) Optional() *FieldBuilder { return b.add(Optional()) }
func (b *FieldBuilder) Type(t ValueType) *FieldBuilder { return b.add(TypeIs(t)) }
func (b *FieldBuilder) Number() *FieldBuilder { return b.add(TypeIs(TypeNumber)) }
func (b *FieldBuilder) Integer() *FieldBuilder { return b.add(TypeIs(TypeInteger)) }
func (b *FieldBuilder) Text() *FieldBuilder { return b.add(TypeIs(TypeString)) }
func (b *FieldBuilder) Boolean() *FieldBuilder { return b.add(TypeIs(TypeBoolean)) }
func (b *FieldBuilder) Email() *FieldBuilder { return b.add(TypeIs(TypeEmail)) }
func (b *FieldBuilder) Phone() *FieldBuilder { return b.add(TypeIs(TypePhone)) }
func (b *FieldBuilder) Date() *FieldBuilder { return b.add(TypeIs(TypeDate)) }
func (b *FieldBuilder) ID() *FieldBuilder { return b.add(TypeIs(TypeID)) }
func (b *FieldBuilder) IDList() *FieldBuilder { return b.add(TypeIs(TypeIDList)) }
func (b *FieldBuilder) MinLength(n int) *FieldBuilder { return b.add(MinLength(n)) }
func (b *FieldBuilder) MaxLength(n int) *FieldBuilder { return b.add(MaxLength(n)) }
func (b *FieldBuilder) Constraint(c Constraint) *FieldBuilder { return b.add(c) }

// Rule returns the built rule. The builder may keep being extended.
func (b *FieldBuilder) Rule() FieldRule {
	return FieldRule{
		Name:        b.rule.Name,
		Label:       b.rule.Label,
		Constraints: append([]Constraint(nil), b.rule.Constraints...),
	}
}

// Rules builds a RuleSet from builders in order.
func Rules(fields ...*FieldBuilder) (RuleSet, error) {
	rules := make([]FieldRule, len(fields))
	for i, f := range fields {
		rules[i] = f.Rule()
	}
	return NewRuleSet(rules...)
}

// MustRules is like Rules but panics on a malformed declaration. It is meant
// for package-level rule tables.
func MustRules(fields ...*FieldBuilder) RuleSet {
	rs, err := Rules(fields...)
	if err != nil {
		panic("validation: " + err.Error())
	}
	return rs
}
