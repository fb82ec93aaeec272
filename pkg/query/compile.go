package query

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/google/uuid"
)

// Compiled holds the statements of a find call. Page selects the ordered record ids of the
// requested page, Count the total number of matching records.
type Compiled struct {
	Page  Statement
	Count Statement
}

type builder struct {
	args []any
}

func (b *builder) arg(value any) string {
	b.args = append(b.args, value)

	return "$" + strconv.Itoa(len(b.args))
}

func (b *builder) list(values []string) string {
	placeholders := make([]string, 0, len(values))
	for _, value := range values {
		placeholders = append(placeholders, b.arg(value))
	}

	return "(" + strings.Join(placeholders, ", ") + ")"
}

type compiler struct {
	builder

	version *models.SchemaVersion
}

// Compile translates find options over a schema version into SQL. Filters are pivoted
// through a single join of the attribute values, keyed on attribute name, so a wide where
// clause does not multiply rows. Sort keys are resolved through one left-joined pivot
// subquery each, so records lacking the sort attribute stay in the result.
func Compile(version *models.SchemaVersion, organizationID int64, opts Options) (*Compiled, error) {
	err := opts.normalize()
	if err != nil {
		return nil, err
	}

	c := &compiler{version: version}

	matched, err := c.matched(organizationID, opts)
	if err != nil {
		return nil, err
	}

	count := Statement{
		SQL:  matched + "\nSELECT COUNT(*) FROM matched",
		Args: slices.Clone(c.args),
	}

	joins, terms, err := c.orderBy(opts.Order)
	if err != nil {
		return nil, err
	}

	var sql strings.Builder

	sql.WriteString(matched)
	sql.WriteString("\nSELECT m.id\nFROM matched m")

	for _, join := range joins {
		sql.WriteString("\n")
		sql.WriteString(join)
	}

	sql.WriteString("\nORDER BY ")
	sql.WriteString(strings.Join(terms, ", "))
	sql.WriteString("\nLIMIT " + c.arg(opts.Limit) + " OFFSET " + c.arg(opts.Offset()))

	return &Compiled{
		Page:  Statement{SQL: sql.String(), Args: c.args},
		Count: count,
	}, nil
}

func (c *compiler) matched(organizationID int64, opts Options) (string, error) {
	where := []string{
		"r.organization_id = " + c.arg(organizationID),
		"r.schema_version_id = " + c.arg(c.version.ID),
		"r.deleted_at IS NULL",
	}

	if opts.RecordID != "" {
		where = append(where, "r.id = "+c.arg(opts.RecordID))
	}

	var having []string

	if len(opts.Where) > 0 {
		alternatives := make([]string, 0, len(opts.Where))

		for _, clause := range opts.Where {
			predicate, err := c.clause(clause)
			if err != nil {
				return "", err
			}

			alternatives = append(alternatives, "("+predicate+")")
		}

		having = append(having, "("+strings.Join(alternatives, " OR ")+")")
	}

	if opts.Search != "" {
		having = append(having, "COALESCE(bool_or(av.text_value ILIKE "+c.arg(containsPattern(opts.Search))+"), false)")
	}

	sql := `WITH matched AS (
	SELECT r.id, r.created_at, r.updated_at
	FROM records r
	LEFT JOIN attribute_values av ON av.record_id = r.id AND av.deleted_at IS NULL
	LEFT JOIN attributes a ON a.id = av.attribute_id AND a.deleted_at IS NULL
	WHERE ` + strings.Join(where, "\n\t  AND ") + `
	GROUP BY r.id`

	if len(having) > 0 {
		sql += "\n\tHAVING " + strings.Join(having, "\n\t   AND ")
	}

	return sql + "\n)", nil
}

func (c *compiler) clause(clause Clause) (string, error) {
	if len(clause) == 0 {
		return "TRUE", nil
	}

	keys := make([]string, 0, len(clause))
	for key := range clause {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	predicates := make([]string, 0, len(keys))

	for _, key := range keys {
		predicate, err := c.key(key, clause[key])
		if err != nil {
			return "", err
		}

		predicates = append(predicates, predicate)
	}

	return strings.Join(predicates, " AND "), nil
}

func (c *compiler) key(key string, value any) (string, error) {
	switch key {
	case KeyID:
		ids, err := recordIDs(key, value)
		if err != nil {
			return "", err
		}

		return "r.id IN " + c.list(ids), nil
	case KeyReferenceRecordID:
		ids, err := recordIDs(key, value)
		if err != nil {
			return "", err
		}

		return "COALESCE(bool_or(av.reference_record_id IN " + c.list(ids) + "), false)", nil
	case KeyBackReferenceRecordID:
		ids, err := recordIDs(key, value)
		if err != nil {
			return "", err
		}

		return c.referencedBy(nil, ids), nil
	}

	attribute := c.version.AttributeByName(key)
	if attribute == nil {
		return "", fmt.Errorf("%w: %q is not an attribute of %s", ErrUnknownField, key, c.version.Name)
	}

	if attribute.IsBackReference {
		if value == nil {
			return "NOT " + c.referencedBy(attribute.SourceAttributeIDs, nil), nil
		}

		ids, err := recordIDs(key, value)
		if err != nil {
			return "", err
		}

		return c.referencedBy(attribute.SourceAttributeIDs, ids), nil
	}

	name := c.arg(attribute.Name)
	column := "av." + attribute.Slot().Column()

	if value == nil {
		return fmt.Sprintf("NOT COALESCE(bool_or(CASE WHEN a.name = %s THEN %s IS NOT NULL END), false)", name, column), nil
	}

	predicate, err := c.value(attribute, value)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("COALESCE(bool_or(CASE WHEN a.name = %s THEN %s END), false)", name, predicate), nil
}

// referencedBy matches records pointed at by a live record, optionally restricted to a set of
// forward attributes and to a set of source records.
func (c *compiler) referencedBy(sourceAttributeIDs, sourceIDs []string) string {
	sql := `EXISTS (SELECT 1 FROM attribute_values bav JOIN records br ON br.id = bav.record_id AND br.deleted_at IS NULL WHERE bav.deleted_at IS NULL AND bav.reference_record_id = r.id`

	if len(sourceAttributeIDs) > 0 {
		sql += " AND bav.attribute_id IN " + c.list(sourceAttributeIDs)
	}

	if sourceIDs != nil {
		sql += " AND bav.record_id IN " + c.list(sourceIDs)
	}

	return sql + ")"
}

func (c *compiler) value(attribute *models.Attribute, value any) (string, error) {
	switch v := value.(type) {
	case []any:
		if len(v) == 0 {
			return "FALSE", nil
		}

		alternatives := make([]string, 0, len(v))

		for _, item := range v {
			predicate, err := c.value(attribute, item)
			if err != nil {
				return "", err
			}

			alternatives = append(alternatives, predicate)
		}

		return "(" + strings.Join(alternatives, " OR ") + ")", nil
	case []string:
		items := make([]any, 0, len(v))
		for _, item := range v {
			items = append(items, item)
		}

		return c.value(attribute, items)
	case map[string]any:
		_, hasStart := v["start"]
		_, hasEnd := v["end"]

		if hasStart || hasEnd {
			return c.between(attribute, Range{Start: v["start"], End: v["end"]})
		}

		if id, ok := v["id"]; ok && attribute.Slot() == attributes.SlotReference {
			return c.value(attribute, id)
		}

		return "", fmt.Errorf("%w: unsupported object filter on %q", ErrInvalidWhere, attribute.Name)
	case Range:
		return c.between(attribute, v)
	case bool:
		if attribute.Slot() == attributes.SlotNumber {
			n := 0
			if v {
				n = 1
			}

			return "av.number_value = " + c.arg(n), nil
		}

		return "av.text_value = " + c.arg(strconv.FormatBool(v)), nil
	case string:
		return c.text(attribute, v)
	default:
		n, ok := attributes.ToFloat(value)
		if !ok {
			return "", fmt.Errorf("%w: unsupported filter value %T on %q", ErrInvalidWhere, value, attribute.Name)
		}

		return c.number(attribute, n)
	}
}

func (c *compiler) number(attribute *models.Attribute, n float64) (string, error) {
	switch {
	case attribute.Slot() == attributes.SlotNumber || attribute.Type == attributes.TypeSequence:
		return "av.number_value = " + c.arg(n), nil
	case attribute.Slot() == attributes.SlotText:
		return "av.text_value = " + c.arg(attributes.FormatNumber(n)), nil
	default:
		return "", fmt.Errorf("%w: %q does not hold numbers", ErrInvalidWhere, attribute.Name)
	}
}

func (c *compiler) text(attribute *models.Attribute, value string) (string, error) {
	switch attribute.Slot() {
	case attributes.SlotReference:
		id, err := uuid.Parse(value)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not a record id", ErrInvalidWhere, value)
		}

		return "av.reference_record_id = " + c.arg(id.String()), nil
	case attributes.SlotNumber:
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not a number", ErrInvalidWhere, value)
		}

		return c.number(attribute, n)
	case attributes.SlotDate:
		return "av.date_value = " + c.arg(value), nil
	case attributes.SlotTime:
		return "av.time_value = " + c.arg(value), nil
	case attributes.SlotDateTime:
		if isDateOnly(value) {
			return "av.datetime_value::date = " + c.arg(value), nil
		}

		return "av.datetime_value = " + c.arg(value), nil
	case attributes.SlotJSON:
		return "av.json_value::text ILIKE " + c.arg(containsPattern(value)), nil
	default:
		return "av.text_value ILIKE " + c.arg(containsPattern(value)), nil
	}
}

// between compiles a range. Numeric bounds compare the numeric slot, string bounds compare
// the date, time or datetime slot.
func (c *compiler) between(attribute *models.Attribute, r Range) (string, error) {
	if r.Start == nil && r.End == nil {
		return "TRUE", nil
	}

	numeric := isNumeric(r.Start) || isNumeric(r.End)

	var column string

	switch slot := attribute.Slot(); {
	case numeric && (slot == attributes.SlotNumber || attribute.Type == attributes.TypeSequence):
		column = "av.number_value"
	case !numeric && slot == attributes.SlotDate:
		column = "av.date_value"
	case !numeric && slot == attributes.SlotTime:
		column = "av.time_value"
	case !numeric && slot == attributes.SlotDateTime:
		column = "av.datetime_value"
		if isDateOnly(r.Start) || isDateOnly(r.End) {
			column = "av.datetime_value::date"
		}
	default:
		return "", fmt.Errorf("%w: range is not supported on %q", ErrInvalidWhere, attribute.Name)
	}

	var parts []string

	if r.Start != nil {
		bound, err := rangeBound(r.Start, numeric)
		if err != nil {
			return "", err
		}

		parts = append(parts, column+" >= "+c.arg(bound))
	}

	if r.End != nil {
		bound, err := rangeBound(r.End, numeric)
		if err != nil {
			return "", err
		}

		parts = append(parts, column+" <= "+c.arg(bound))
	}

	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (c *compiler) orderBy(orders []Order) ([]string, []string, error) {
	var (
		joins []string
		terms []string
	)

	for i, order := range orders {
		direction := "ASC"
		if order.Descending {
			direction = "DESC"
		}

		switch order.Key {
		case SortCreatedAt:
			terms = append(terms, "m.created_at "+direction)

			continue
		case SortUpdatedAt:
			terms = append(terms, "m.updated_at "+direction)

			continue
		case KeyID:
			terms = append(terms, "m.id "+direction)

			continue
		}

		attribute := c.version.AttributeByName(order.Key)
		if attribute == nil {
			return nil, nil, fmt.Errorf("%w: %q is not an attribute of %s", ErrUnknownField, order.Key, c.version.Name)
		}

		if attribute.IsBackReference {
			return nil, nil, fmt.Errorf("%w: cannot sort by back-reference %q", ErrInvalidOrder, order.Key)
		}

		alias := "s" + strconv.Itoa(i)

		joins = append(joins, fmt.Sprintf(`LEFT JOIN (
	SELECT av.record_id, MAX(%s) AS sort_value
	FROM attribute_values av
	WHERE av.attribute_id = %s AND av.deleted_at IS NULL
	GROUP BY av.record_id
) %s ON %s.record_id = m.id`, sortExpression(attribute), c.arg(attribute.ID), alias, alias))

		terms = append(terms, alias+".sort_value "+direction+" NULLS LAST")
	}

	terms = append(terms, "m.created_at ASC", "m.id ASC")

	return joins, terms, nil
}

func sortExpression(attribute *models.Attribute) string {
	if attribute.Type == attributes.TypeSequence {
		return "av.number_value"
	}

	switch slot := attribute.Slot(); slot {
	case attributes.SlotJSON:
		return "av.json_value::text"
	case attributes.SlotReference:
		return "av.reference_record_id::text"
	default:
		return "av." + slot.Column()
	}
}

func recordIDs(key string, value any) ([]string, error) {
	var raw []any

	switch v := value.(type) {
	case string:
		raw = []any{v}
	case []string:
		for _, item := range v {
			raw = append(raw, item)
		}
	case []any:
		raw = v
	default:
		return nil, fmt.Errorf("%w: %q expects a record id or a list of record ids", ErrInvalidWhere, key)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %q expects at least one record id", ErrInvalidWhere, key)
	}

	ids := make([]string, 0, len(raw))

	for _, item := range raw {
		id, err := attributes.ReferenceID(item)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidWhere, key, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func rangeBound(value any, numeric bool) (any, error) {
	if numeric {
		n, ok := attributes.ToFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: range bounds must both be numbers", ErrInvalidWhere)
		}

		return n, nil
	}

	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: range bounds must both be dates", ErrInvalidWhere)
	}

	return s, nil
}

func isNumeric(value any) bool {
	if value == nil {
		return false
	}

	if _, ok := value.(string); ok {
		return false
	}

	_, ok := attributes.ToFloat(value)

	return ok
}

func isDateOnly(value any) bool {
	s, ok := value.(string)

	return ok && len(s) == len(attributes.DateLayout) && strings.Count(s, "-") == 2
}

func containsPattern(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)

	return "%" + escaped + "%"
}
