package repository

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/pkg/domain"
)

// MemoryDocuments is an in-process DocumentRepository.
type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]domain.Document
}

// NewMemoryDocuments creates an empty repository.
func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[uuid.UUID]domain.Document)}
}

func (m *MemoryDocuments) Get(_ context.Context, userID uuid.UUID) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[userID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return cloneDocument(doc), nil
}

func (m *MemoryDocuments) Put(_ context.Context, userID uuid.UUID, fields map[string]any, now time.Time) (*domain.Document, error) {
	if err := CheckFieldNames(fields); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	createdAt := now
	if existing, ok := m.docs[userID]; ok {
		createdAt = existing.CreatedAt
	}
	doc := domain.Document{
		UserID:    userID,
		Fields:    maps.Clone(fields),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	if doc.Fields == nil {
		doc.Fields = make(map[string]any)
	}
	m.docs[userID] = doc
	return cloneDocument(doc), nil
}

func (m *MemoryDocuments) Merge(_ context.Context, userID uuid.UUID, fields map[string]any, now time.Time) (*domain.Document, error) {
	if err := CheckFieldNames(fields); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[userID]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	doc.Fields = maps.Clone(doc.Fields)
	maps.Copy(doc.Fields, fields)
	doc.UpdatedAt = now
	m.docs[userID] = doc
	return cloneDocument(doc), nil
}

func (m *MemoryDocuments) Delete(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, userID)
	return nil
}

func cloneDocument(doc domain.Document) *domain.Document {
	doc.Fields = maps.Clone(doc.Fields)
	return &doc
}
