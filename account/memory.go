package account

import (
	"context"
	"strings"
	"sync"
)

// MemoryRepository is an in-process [Repository] for tests and local
// development.
type MemoryRepository struct {
	mu           sync.RWMutex
	admins       map[string]*Admin // by id
	byIdentifier map[string]string // normalized identifier -> id
	hospitals    map[int64]Hospital
	affiliations map[string][]Affiliation // by account id
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		admins:       make(map[string]*Admin),
		byIdentifier: make(map[string]string),
		hospitals:    make(map[int64]Hospital),
		affiliations: make(map[string][]Affiliation),
	}
}

// AddHospital registers h.
func (r *MemoryRepository) AddHospital(h Hospital) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hospitals[h.ID] = h
}

// AddAdmin stores a copy of a, replacing any account with the same id.
func (r *MemoryRepository) AddAdmin(a Admin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := a
	r.admins[a.ID] = &cp
	r.byIdentifier[NormalizeIdentifier(a.Identifier)] = a.ID
}

// Link affiliates an account with a registered hospital.
func (r *MemoryRepository) Link(accountID string, hospitalID int64, role AffiliationRole) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hospitals[hospitalID]
	if !ok {
		return
	}
	r.affiliations[accountID] = append(r.affiliations[accountID], Affiliation{
		AccountID: accountID,
		Role:      role,
		Hospital:  h,
	})
}

func (r *MemoryRepository) FindByIdentifier(_ context.Context, identifier string) (*Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentifier[NormalizeIdentifier(identifier)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.admins[id]
	return &cp, nil
}

func (r *MemoryRepository) FindAffiliation(_ context.Context, accountID string, lookup FacilityLookup) (*Affiliation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code := strings.TrimSpace(lookup.Code)
	for _, aff := range r.affiliations[accountID] {
		if code != "" && strings.EqualFold(aff.Hospital.Code, code) {
			cp := aff
			return &cp, nil
		}
		if lookup.ID > 0 && aff.Hospital.ID == lookup.ID {
			cp := aff
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) SetPasswordHash(_ context.Context, accountID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.admins[accountID]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = hash
	return nil
}

func (r *MemoryRepository) ClearMustChangeFlag(_ context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.admins[accountID]
	if !ok {
		return ErrNotFound
	}
	a.MustChangePassword = false
	return nil
}
