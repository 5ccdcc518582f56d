package directory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MemoryRepository keeps accounts in process memory. It is meant for tests,
// local tooling and single-process demos.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
	persons  map[string]Person
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]Account),
		persons:  make(map[string]Person),
	}
}

func (r *MemoryRepository) AccountByID(_ context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(acc), nil
}

func (r *MemoryRepository) AccountByUsername(_ context.Context, username string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, acc := range r.accounts {
		if acc.Username == username {
			return cloneAccount(acc), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) AccountsByEmail(_ context.Context, email string) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Account, 0, 1)
	for _, p := range r.persons {
		if !strings.EqualFold(p.Email, email) {
			continue
		}
		if acc, ok := r.accounts[p.AccountID]; ok {
			out = append(out, *cloneAccount(acc))
		}
	}
	sortAccounts(out)
	return out, nil
}

func (r *MemoryRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	_, err := r.AccountByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *MemoryRepository) CreateAccount(_ context.Context, acc Account, person Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[acc.ID]; ok {
		return ErrAccountExists
	}
	for _, existing := range r.accounts {
		if existing.Username == acc.Username {
			return ErrAccountExists
		}
	}
	for _, p := range r.persons {
		if strings.EqualFold(p.Email, person.Email) {
			return ErrAccountExists
		}
	}

	r.accounts[acc.ID] = *cloneAccount(acc)
	if person.ID != "" {
		r.persons[person.ID] = person
	}
	return nil
}

func (r *MemoryRepository) UpdatePasswordHash(_ context.Context, id, hash string) (bool, error) {
	return r.mutate(id, func(acc *Account) { acc.PasswordHash = hash }), nil
}

func (r *MemoryRepository) SetLocked(_ context.Context, id string, locked bool) (bool, error) {
	return r.mutate(id, func(acc *Account) { acc.Locked = locked }), nil
}

func (r *MemoryRepository) SetAdmin(_ context.Context, id string, admin bool) (bool, error) {
	return r.mutate(id, func(acc *Account) { acc.IsAdmin = admin }), nil
}

func (r *MemoryRepository) UpdateTitle(_ context.Context, id, title string) (bool, error) {
	return r.mutate(id, func(acc *Account) { acc.Title = title }), nil
}

func (r *MemoryRepository) UpdateUsername(_ context.Context, id, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for otherID, other := range r.accounts {
		if otherID != id && other.Username == username {
			return false, ErrAccountExists
		}
	}
	acc, ok := r.accounts[id]
	if !ok {
		return false, nil
	}
	acc.Username = username
	r.accounts[id] = acc
	return true, nil
}

func (r *MemoryRepository) DeleteAccount(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return false, nil
	}
	delete(r.accounts, id)
	for pid, p := range r.persons {
		if p.AccountID == id {
			delete(r.persons, pid)
		}
	}
	return true, nil
}

func (r *MemoryRepository) ListAccounts(_ context.Context, offset, limit int) ([]Account, error) {
	r.mu.RLock()
	all := make([]Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		all = append(all, *cloneAccount(acc))
	}
	r.mu.RUnlock()

	sortAccounts(all)
	if offset >= len(all) {
		return []Account{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *MemoryRepository) CountAccounts(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts), nil
}

func (r *MemoryRepository) PersonByID(_ context.Context, id string) (*Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.persons[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) mutate(id string, fn func(*Account)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return false
	}
	fn(&acc)
	r.accounts[id] = acc
	return true
}

func cloneAccount(acc Account) *Account {
	out := acc
	if acc.PersonID != nil {
		pid := *acc.PersonID
		out.PersonID = &pid
	}
	return &out
}

func sortAccounts(accounts []Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}
