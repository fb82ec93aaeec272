package mocks

import (
	"context"

	"github.com/dukex/nodebase/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockRecordWriter is a mock implementation of web.RecordWriter interface.
type MockRecordWriter struct {
	mock.Mock
}

func (m *MockRecordWriter) Create(ctx context.Context, organizationID int64, actor string, payload models.RecordData) (models.RecordData, error) {
	args := m.Called(ctx, organizationID, actor, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(models.RecordData), args.Error(1)
}

func (m *MockRecordWriter) Update(ctx context.Context, organizationID int64, actor, recordID string, payload models.RecordData) (models.RecordData, error) {
	args := m.Called(ctx, organizationID, actor, recordID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(models.RecordData), args.Error(1)
}

func (m *MockRecordWriter) UpsertMultiple(ctx context.Context, organizationID int64, actor string, payloads []models.RecordData) ([]models.RecordData, error) {
	args := m.Called(ctx, organizationID, actor, payloads)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.RecordData), args.Error(1)
}

func (m *MockRecordWriter) Delete(ctx context.Context, organizationID int64, actor, recordID string) error {
	args := m.Called(ctx, organizationID, actor, recordID)

	return args.Error(0)
}

func (m *MockRecordWriter) CreateReferenceNode(ctx context.Context, organizationID int64, actor, sourceID, attributeName string, payload models.RecordData) (models.RecordData, error) {
	args := m.Called(ctx, organizationID, actor, sourceID, attributeName, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(models.RecordData), args.Error(1)
}
