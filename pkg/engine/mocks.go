package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// In-memory collaborator doubles, exported so server and CLI tests can wire
// an engine without a live ERP backend.

// MockRecordStore records every create and update it receives.
type MockRecordStore struct {
	mu      sync.Mutex
	Records map[string]map[string]any // entityType/entityID -> data
	FailAll bool
}

func NewMockRecordStore() *MockRecordStore {
	return &MockRecordStore{Records: make(map[string]map[string]any)}
}

func (m *MockRecordStore) CreateRecord(_ context.Context, entityType string, data map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return "", errors.New("record store unavailable")
	}
	id := uuid.NewString()
	m.Records[entityType+"/"+id] = data
	return id, nil
}

func (m *MockRecordStore) UpdateRecord(_ context.Context, entityType, entityID string, updates map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return errors.New("record store unavailable")
	}
	key := entityType + "/" + entityID
	if m.Records[key] == nil {
		m.Records[key] = make(map[string]any)
	}
	for k, v := range updates {
		m.Records[key][k] = v
	}
	return nil
}

// Get returns the stored record, or nil.
func (m *MockRecordStore) Get(entityType, entityID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Records[entityType+"/"+entityID]
}

// MockEntityLoader serves entity snapshots from a fixed map.
type MockEntityLoader struct {
	Entities map[string]map[string]any // entityType/entityID -> snapshot
}

func NewMockEntityLoader() *MockEntityLoader {
	return &MockEntityLoader{Entities: make(map[string]map[string]any)}
}

func (m *MockEntityLoader) Put(entityType, entityID string, snapshot map[string]any) {
	m.Entities[entityType+"/"+entityID] = snapshot
}

func (m *MockEntityLoader) LoadEntity(_ context.Context, entityType, entityID, _ string) (map[string]any, error) {
	snapshot, ok := m.Entities[entityType+"/"+entityID]
	if !ok {
		return nil, errors.Errorf("entity %s/%s not found", entityType, entityID)
	}
	return snapshot, nil
}

// SentEmail is one captured outgoing email.
type SentEmail struct {
	To      []string
	Subject string
	Body    string
}

// MockMailer captures sent emails instead of delivering them.
type MockMailer struct {
	mu   sync.Mutex
	Sent []SentEmail
	Err  error
}

func NewMockMailer() *MockMailer { return &MockMailer{} }

func (m *MockMailer) SendEmail(_ context.Context, to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *MockMailer) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// SentNotification is one captured in-app notification.
type SentNotification struct {
	Recipients []string
	Subject    string
	Message    string
}

// MockNotifier captures in-app notifications.
type MockNotifier struct {
	mu   sync.Mutex
	Sent []SentNotification
}

func NewMockNotifier() *MockNotifier { return &MockNotifier{} }

func (m *MockNotifier) Notify(_ context.Context, recipients []string, subject, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentNotification{Recipients: recipients, Subject: subject, Message: message})
	return nil
}

func (m *MockNotifier) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// FakeClock is a manually advanced clock. After channels fire when Advance
// moves the clock past their deadline.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	at time.Time
	ch chan time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	at := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{at: at, ch: ch})
	return ch
}

// Advance moves the clock forward and fires every waiter whose deadline passed.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
}
