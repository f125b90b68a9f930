package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/jmehdipour/recurring-orders/internal/errs"
	"github.com/jmehdipour/recurring-orders/internal/model"
	"github.com/jmehdipour/recurring-orders/internal/repository"
)

// Customers is an in-memory repository.CustomersRepository with the same
// version check as the MySQL one.
type Customers struct {
	mu   sync.Mutex
	byID map[string]model.Customer

	// BeforeUpdate runs before each UpdateMetadata, e.g. to simulate a
	// concurrent writer.
	BeforeUpdate func(c *model.Customer)
	Updates      int
}

var _ repository.CustomersRepository = (*Customers)(nil)

func NewCustomers(cs ...model.Customer) *Customers {
	s := &Customers{byID: map[string]model.Customer{}}
	for _, c := range cs {
		s.byID[c.ID] = copyCustomer(c)
	}
	return s
}

// copyCustomer deep-copies through the metadata JSON so callers never share slices.
func copyCustomer(c model.Customer) model.Customer {
	b, _ := json.Marshal(c.Metadata)
	var m model.CustomerMetadata
	_ = json.Unmarshal(b, &m)
	c.Metadata = m
	return c
}

func (s *Customers) Put(c model.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = copyCustomer(c)
}

func (s *Customers) Get(id string) model.Customer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyCustomer(s.byID[id])
}

func (s *Customers) GetByAPIKey(_ context.Context, key string) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.APIKey == key {
			cp := copyCustomer(c)
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Customers) GetByID(_ context.Context, id string) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, errs.NotFound("customer", id)
	}
	cp := copyCustomer(c)
	return &cp, nil
}

func (s *Customers) ListPage(_ context.Context, afterID string, limit int) ([]model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.Customer, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyCustomer(s.byID[id]))
	}
	return out, nil
}

func (s *Customers) UpdateMetadata(_ context.Context, c *model.Customer) error {
	if s.BeforeUpdate != nil {
		s.BeforeUpdate(c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[c.ID]
	if !ok {
		return errs.NotFound("customer", c.ID)
	}
	if cur.Version != c.Version {
		return errs.ErrVersionConflict
	}
	cur.Metadata = c.Metadata
	cur.Version++
	s.byID[c.ID] = copyCustomer(cur)
	c.Version = cur.Version
	s.Updates++
	return nil
}

type Companies struct {
	byID map[string]model.Company
}

var _ repository.CompaniesRepository = (*Companies)(nil)

func NewCompanies(cs ...model.Company) *Companies {
	s := &Companies{byID: map[string]model.Company{}}
	for _, c := range cs {
		s.byID[c.ID] = c
	}
	return s
}

func (s *Companies) GetByID(_ context.Context, id string) (*model.Company, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, errs.NotFound("company", id)
	}
	return &c, nil
}

// Sent is one captured notification.
type Sent struct {
	CustomerID string
	Kind       string
	Email      model.Email
}

type Notifier struct {
	mu   sync.Mutex
	Err  error
	sent []Sent
}

func (n *Notifier) Send(_ context.Context, customerID, kind string, email model.Email) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, Sent{CustomerID: customerID, Kind: kind, Email: email})
	return nil
}

func (n *Notifier) Sent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Sent(nil), n.sent...)
}

// RunLog records run history in memory.
type RunLog struct {
	mu   sync.Mutex
	recs []model.RunRecord
}

var _ repository.RunLogRepository = (*RunLog)(nil)

func (l *RunLog) Insert(_ context.Context, recs []model.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recs = append(l.recs, recs...)
	return nil
}

func (l *RunLog) ListByCustomer(_ context.Context, f repository.RunFilter) ([]model.RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.RunRecord
	for _, r := range l.recs {
		if r.CustomerID != f.CustomerID {
			continue
		}
		if f.RecurrenceID != "" && r.RecurrenceID != f.RecurrenceID {
			continue
		}
		if f.Outcome != "" && r.Outcome != f.Outcome {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (l *RunLog) Records() []model.RunRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.RunRecord(nil), l.recs...)
}
