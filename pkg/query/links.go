package query

// ForwardLinks selects the live reference targets held by the given records through the
// given attributes. Targets that were deleted are skipped.
func ForwardLinks(recordIDs, attributeIDs []string) Statement {
	var b builder

	sql := `SELECT av.record_id, av.attribute_id, av.reference_record_id
FROM attribute_values av
JOIN records t ON t.id = av.reference_record_id AND t.deleted_at IS NULL
WHERE av.deleted_at IS NULL
  AND av.record_id IN ` + b.list(recordIDs) + `
  AND av.attribute_id IN ` + b.list(attributeIDs) + `
ORDER BY av.record_id, av.created_at, av.id`

	return Statement{SQL: sql, Args: b.args}
}

// BackLinks selects the live records pointing at the given records through the given
// forward attributes. RecordID of each link is the referenced record, TargetID the record
// holding the reference.
func BackLinks(recordIDs, sourceAttributeIDs []string) Statement {
	var b builder

	sql := `SELECT av.reference_record_id, av.attribute_id, av.record_id
FROM attribute_values av
JOIN records s ON s.id = av.record_id AND s.deleted_at IS NULL
WHERE av.deleted_at IS NULL
  AND av.reference_record_id IN ` + b.list(recordIDs) + `
  AND av.attribute_id IN ` + b.list(sourceAttributeIDs) + `
ORDER BY av.reference_record_id, s.created_at, s.id`

	return Statement{SQL: sql, Args: b.args}
}
