// Package i18n holds the bilingual (English/Arabic) response text shared by
// the field rule evaluator and every resource handler.
//
// The table is loaded once from the embedded messages.yaml. Both locales must
// define exactly the same key set; [Load] rejects a table where they drift.
package i18n

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Locale selects which side of the table a message is drawn from.
type Locale string

const (
	English Locale = "en"
	Arabic  Locale = "ar"
)

// Key names a message kind in the table.
type Key string

const (
	Unauthorized    Key = "unauthorized"
	ServerError     Key = "server_error"
	InvalidJSON     Key = "invalid_json"
	BodyTooLarge    Key = "body_too_large"
	RequestTimeout  Key = "request_timeout"
	TooManyRequests Key = "too_many_requests"
	Created         Key = "created"
	Deleted         Key = "deleted"
	RecordsNotFound Key = "records_not_found"
	DuplicateItem   Key = "duplicate_item"
	InUse           Key = "in_use"

	BranchNotFound     Key = "branch_not_found"
	CustomerNotFound   Key = "customer_not_found"
	ProductNotFound    Key = "product_not_found"
	SalesOrderNotFound Key = "sales_order_not_found"
	UserNotFound       Key = "user_not_found"
	RoleNotFound       Key = "role_not_found"

	EmailTaken       Key = "email_taken"
	SKUTaken         Key = "sku_taken"
	OrderNumberTaken Key = "order_number_taken"
	BranchNameTaken  Key = "branch_name_taken"
	RoleNameTaken    Key = "role_name_taken"
	AssignmentExists Key = "assignment_exists"

	EntityCustomer       Key = "entity_customer"
	EntityProduct        Key = "entity_product"
	EntitySalesOrder     Key = "entity_sales_order"
	EntitySalesOrderItem Key = "entity_sales_order_item"
	EntityBranch         Key = "entity_branch"
	EntityUserBranch     Key = "entity_user_branch"
	EntityRole           Key = "entity_role"
	EntityUser           Key = "entity_user"

	ValidationRequired  Key = "validation_required"
	ValidationNumber    Key = "validation_number"
	ValidationInteger   Key = "validation_integer"
	ValidationString    Key = "validation_string"
	ValidationBoolean   Key = "validation_boolean"
	ValidationEmail     Key = "validation_email"
	ValidationPhone     Key = "validation_phone"
	ValidationDate      Key = "validation_date"
	ValidationID        Key = "validation_id"
	ValidationIDList    Key = "validation_id_list"
	ValidationMinLength Key = "validation_min_length"
	ValidationMaxLength Key = "validation_max_length"
)

//go:embed messages.yaml
var messagesYAML []byte

var defaultCatalog = mustLoad(messagesYAML)

// Catalog is an immutable bilingual message table.
type Catalog struct {
	messages map[Locale]map[Key]string
}

// Default returns the catalog built from the embedded messages.yaml.
func Default() *Catalog {
	return defaultCatalog
}

// Load parses a YAML document of the form {en: {key: text}, ar: {key: text}}.
// Both locales must be present and must define the same keys.
func Load(data []byte) (*Catalog, error) {
	var raw map[Locale]map[Key]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}

	en, ok := raw[English]
	if !ok || len(en) == 0 {
		return nil, errors.New("messages: missing en table")
	}
	ar, ok := raw[Arabic]
	if !ok || len(ar) == 0 {
		return nil, errors.New("messages: missing ar table")
	}

	var missing []string
	for key := range en {
		if _, ok := ar[key]; !ok {
			missing = append(missing, "ar."+string(key))
		}
	}
	for key := range ar {
		if _, ok := en[key]; !ok {
			missing = append(missing, "en."+string(key))
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return nil, fmt.Errorf("messages: keys missing: %s", strings.Join(missing, ", "))
	}

	return &Catalog{messages: map[Locale]map[Key]string{English: en, Arabic: ar}}, nil
}

func mustLoad(data []byte) *Catalog {
	c, err := Load(data)
	if err != nil {
		panic(err)
	}
	return c
}

// Text returns the message for key in locale, formatted with args when given.
// Unknown locales fall back to English; unknown keys return the key itself.
func (c *Catalog) Text(locale Locale, key Key, args ...any) string {
	table, ok := c.messages[locale]
	if !ok {
		table = c.messages[English]
	}
	msg, ok := table[key]
	if !ok {
		return string(key)
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Keys returns the sorted key set of locale.
func (c *Catalog) Keys(locale Locale) []Key {
	table := c.messages[locale]
	keys := make([]Key, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Text is shorthand for Default().Text.
func Text(locale Locale, key Key, args ...any) string {
	return defaultCatalog.Text(locale, key, args...)
}

// FromAcceptLanguage picks Arabic when the header value starts with "ar",
// and English for anything else, including an absent header.
func FromAcceptLanguage(header string) Locale {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(header)), "ar") {
		return Arabic
	}
	return English
}
