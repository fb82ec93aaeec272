// Package query compiles record filters, searches and orderings over the attribute value
// store into parameterized PostgreSQL. It performs no I/O.
package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Pseudo keys accepted in a where clause besides attribute names.
const (
	KeyID                    = "id"
	KeyReferenceRecordID     = "referenceRecordId"
	KeyBackReferenceRecordID = "backReferenceRecordId"
)

// Sort keys backed by record columns.
const (
	SortCreatedAt = "createdAt"
	SortUpdatedAt = "updatedAt"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidWhere = errors.New("invalid where clause")
	ErrInvalidOrder = errors.New("invalid order")
	ErrInvalidPage  = errors.New("invalid pagination")
)

// Clause is a conjunction of key filters. A list of clauses is a disjunction.
type Clause map[string]any

// Order is one sort key.
type Order struct {
	Key        string
	Descending bool
}

// Options drives one find call.
type Options struct {
	Where                 []Clause
	Search                string
	Order                 []Order
	Page                  int
	Limit                 int
	IncludeReferences     bool
	IncludeBackReferences bool
	// Relations lists dotted reference paths loaded beyond the first level, e.g.
	// "customer.address".
	Relations []string
	// RecordID restricts the result to one record.
	RecordID string
}

// Statement is a parameterized SQL statement.
type Statement struct {
	SQL  string
	Args []any
}

// Link is one edge between records found by a reference or back-reference pass. RecordID is
// the record on the page, TargetID the record to splice into it and AttributeID the forward
// attribute carrying the edge.
type Link struct {
	RecordID    string
	AttributeID string
	TargetID    string
}

// Range filters values between Start and End, both inclusive and both optional.
type Range struct {
	Start any `json:"start"`
	End   any `json:"end"`
}

// ParseWhere decodes a where clause given as a JSON object or a JSON array of objects.
func ParseWhere(raw string) ([]Clause, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewBufferString(raw))
	decoder.UseNumber()

	var decoded any

	err := decoder.Decode(&decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWhere, err)
	}

	return WhereFrom(decoded)
}

// WhereFrom converts an already decoded where value.
func WhereFrom(decoded any) ([]Clause, error) {
	switch where := decoded.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []Clause{where}, nil
	case Clause:
		return []Clause{where}, nil
	case []any:
		clauses := make([]Clause, 0, len(where))

		for _, item := range where {
			clause, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: every alternative must be an object", ErrInvalidWhere)
			}

			clauses = append(clauses, clause)
		}

		return clauses, nil
	default:
		return nil, fmt.Errorf("%w: expected an object or an array of objects", ErrInvalidWhere)
	}
}

// ParseOrder reads a comma separated list of keys. A leading "-" or a ":desc" suffix sorts
// descending.
func ParseOrder(raw string) ([]Order, error) {
	var orders []Order

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		order := Order{Key: part}

		if strings.HasPrefix(part, "-") {
			order = Order{Key: strings.TrimPrefix(part, "-"), Descending: true}
		} else if key, direction, found := strings.Cut(part, ":"); found {
			switch strings.ToLower(direction) {
			case "asc":
				order = Order{Key: key}
			case "desc":
				order = Order{Key: key, Descending: true}
			default:
				return nil, fmt.Errorf("%w: direction %q", ErrInvalidOrder, direction)
			}
		}

		if order.Key == "" {
			return nil, fmt.Errorf("%w: empty key", ErrInvalidOrder)
		}

		orders = append(orders, order)
	}

	return orders, nil
}

// RelationTree is a parsed set of dotted relation paths keyed by attribute name.
type RelationTree map[string]RelationTree

func ParseRelations(paths []string) RelationTree {
	tree := RelationTree{}

	for _, path := range paths {
		node := tree

		for _, name := range strings.Split(path, ".") {
			name = strings.TrimSpace(name)
			if name == "" {
				break
			}

			child, ok := node[name]
			if !ok {
				child = RelationTree{}
				node[name] = child
			}

			node = child
		}
	}

	return tree
}

// Offset returns the row offset of a zero based page.
func (o Options) Offset() int {
	return o.Page * o.Limit
}

func (o *Options) normalize() error {
	if o.Limit == 0 {
		o.Limit = DefaultLimit
	}

	if o.Limit < 0 || o.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidPage, MaxLimit)
	}

	if o.Page < 0 {
		return fmt.Errorf("%w: page must not be negative", ErrInvalidPage)
	}

	return nil
}
