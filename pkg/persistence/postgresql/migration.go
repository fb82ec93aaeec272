package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Schema definitions, their versions and attribute definitions
			CREATE TABLE schema_definitions (
				id UUID PRIMARY KEY,
				organization_id BIGINT NOT NULL,
				published_version_id UUID,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				modified_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_schema_definitions_organization ON schema_definitions(organization_id) WHERE deleted_at IS NULL;

			CREATE TABLE schema_versions (
				id UUID PRIMARY KEY,
				schema_definition_id UUID NOT NULL REFERENCES schema_definitions(id) ON DELETE CASCADE,
				organization_id BIGINT NOT NULL,
				version INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				label VARCHAR(255) NOT NULL DEFAULT '',
				type VARCHAR(255) NOT NULL DEFAULT '',
				is_published BOOLEAN NOT NULL DEFAULT false,
				published_at TIMESTAMP WITH TIME ZONE,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				modified_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (schema_definition_id, version)
			);

			CREATE INDEX idx_schema_versions_organization_name ON schema_versions(organization_id, name);
			CREATE INDEX idx_schema_versions_organization_type ON schema_versions(organization_id, type);

			CREATE TABLE attributes (
				id UUID PRIMARY KEY,
				schema_version_id UUID NOT NULL REFERENCES schema_versions(id) ON DELETE CASCADE,
				name VARCHAR(255) NOT NULL,
				label VARCHAR(255) NOT NULL DEFAULT '',
				position INT NOT NULL DEFAULT 0,
				type VARCHAR(50) NOT NULL,
				is_required BOOLEAN NOT NULL DEFAULT false,
				options JSONB NOT NULL DEFAULT '{}',
				reference_type VARCHAR(50),
				referenced_schema_version_id UUID,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_attributes_version_name ON attributes(schema_version_id, name) WHERE deleted_at IS NULL;
			CREATE INDEX idx_attributes_referenced_version ON attributes(referenced_schema_version_id) WHERE deleted_at IS NULL;
		`,
		2: `
			-- Records, their attribute values and the append-only value log
			CREATE TABLE records (
				id UUID PRIMARY KEY,
				organization_id BIGINT NOT NULL,
				schema_version_id UUID NOT NULL REFERENCES schema_versions(id),
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				modified_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_records_organization_version ON records(organization_id, schema_version_id) WHERE deleted_at IS NULL;
			CREATE INDEX idx_records_created_at ON records(created_at);

			CREATE TABLE attribute_values (
				id UUID PRIMARY KEY,
				record_id UUID NOT NULL REFERENCES records(id) ON DELETE CASCADE,
				attribute_id UUID NOT NULL REFERENCES attributes(id),
				text_value TEXT,
				number_value NUMERIC,
				date_value DATE,
				time_value TIME,
				datetime_value TIMESTAMP WITH TIME ZONE,
				json_value JSONB,
				reference_record_id UUID REFERENCES records(id),
				is_sequence BOOLEAN NOT NULL DEFAULT false,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				modified_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_attribute_values_record ON attribute_values(record_id) WHERE deleted_at IS NULL;
			CREATE INDEX idx_attribute_values_attribute ON attribute_values(attribute_id);
			CREATE INDEX idx_attribute_values_reference ON attribute_values(reference_record_id) WHERE deleted_at IS NULL;

			-- A sequence number is claimed once per attribute, deleted values included
			CREATE UNIQUE INDEX idx_attribute_values_sequence ON attribute_values(attribute_id, number_value) WHERE is_sequence;

			CREATE TABLE attribute_value_logs (
				id UUID PRIMARY KEY,
				attribute_value_id UUID NOT NULL,
				record_id UUID NOT NULL,
				attribute_id UUID NOT NULL,
				text_value TEXT,
				number_value NUMERIC,
				date_value DATE,
				time_value TIME,
				datetime_value TIMESTAMP WITH TIME ZONE,
				json_value JSONB,
				reference_record_id UUID,
				is_deleted BOOLEAN NOT NULL DEFAULT false,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_attribute_value_logs_record ON attribute_value_logs(record_id, created_at);
		`,
		3: `
			-- Workflows gating record writes
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				organization_id BIGINT NOT NULL,
				published_version_id UUID,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				modified_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE workflow_versions (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				organization_id BIGINT NOT NULL,
				version INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				label VARCHAR(255) NOT NULL DEFAULT '',
				is_published BOOLEAN NOT NULL DEFAULT false,
				published_at TIMESTAMP WITH TIME ZONE,
				schema_version_id UUID NOT NULL REFERENCES schema_versions(id),
				trigger_type VARCHAR(50) NOT NULL CHECK (trigger_type IN ('Create', 'Read', 'Update', 'Delete')),
				position INT NOT NULL DEFAULT 0,
				config JSONB NOT NULL DEFAULT '{}',
				sample_data JSONB,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				modified_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (workflow_id, version)
			);

			CREATE INDEX idx_workflow_versions_schema_trigger ON workflow_versions(schema_version_id, trigger_type) WHERE deleted_at IS NULL;
		`,
	}
}
