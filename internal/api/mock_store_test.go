package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/herbalyze/herbalyze/internal/database"
	"github.com/herbalyze/herbalyze/internal/ledger"
	"github.com/herbalyze/herbalyze/internal/records"
	"github.com/herbalyze/herbalyze/pkg/models"
)

// MockStore implements the Store interface for handler tests.
type MockStore struct {
	mu sync.RWMutex

	users         map[string]*models.User // by id
	usersByEmail  map[string]*models.User
	usersByWallet map[string]*models.User

	profiles map[string]*models.Profile // by wallet

	requests map[string]*models.DoctorRequest

	refreshTokens map[string]string // token -> user id
	nonces        map[string]string // wallet -> message

	nextID int

	// Error injection for testing error paths
	CreateUserErr      error
	GetUserErr         error
	LookupDirectoryErr error
}

func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*models.User),
		usersByEmail:  make(map[string]*models.User),
		usersByWallet: make(map[string]*models.User),
		profiles:      make(map[string]*models.Profile),
		requests:      make(map[string]*models.DoctorRequest),
		refreshTokens: make(map[string]string),
		nonces:        make(map[string]string),
	}
}

func (m *MockStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s_%06d", prefix, m.nextID)
}

func (m *MockStore) CreateUser(ctx context.Context, email, passwordHash, wallet string, role models.Role) (*models.User, error) {
	if m.CreateUserErr != nil {
		return nil, m.CreateUserErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByEmail[email]; exists {
		return nil, database.ErrDuplicateEmail
	}
	if _, exists := m.usersByWallet[wallet]; exists {
		return nil, database.ErrDuplicateWallet
	}

	user := &models.User{
		ID:           m.id("usr"),
		Email:        email,
		PasswordHash: passwordHash,
		Wallet:       wallet,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	m.users[user.ID] = user
	m.usersByEmail[email] = user
	m.usersByWallet[wallet] = user
	return user, nil
}

func (m *MockStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return user, nil
}

func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.usersByEmail[email]
	if !ok {
		return nil, database.ErrNotFound
	}
	return user, nil
}

func (m *MockStore) GetUserByWallet(ctx context.Context, wallet string) (*models.User, error) {
	if m.GetUserErr != nil {
		return nil, m.GetUserErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.usersByWallet[wallet]
	if !ok {
		return nil, database.ErrNotFound
	}
	return user, nil
}

func (m *MockStore) UpdateUserRole(ctx context.Context, id string, role models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return database.ErrNotFound
	}
	user.Role = role
	return nil
}

func (m *MockStore) UpsertProfile(ctx context.Context, p *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Wallet] = p
	return nil
}

func (m *MockStore) GetProfileByWallet(ctx context.Context, wallet string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[wallet]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (m *MockStore) LookupDirectory(ctx context.Context, wallets []string) ([]models.DirectoryEntry, error) {
	if m.LookupDirectoryErr != nil {
		return nil, m.LookupDirectoryErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []models.DirectoryEntry
	for _, wallet := range wallets {
		user, ok := m.usersByWallet[wallet]
		if !ok {
			continue
		}
		entry := models.DirectoryEntry{Wallet: wallet, Role: user.Role}
		if p, ok := m.profiles[wallet]; ok {
			entry.DisplayName = p.DisplayName
			entry.Institution = p.Institution
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (m *MockStore) CreateDoctorRequest(ctx context.Context, userID, wallet, documentPath string) (*models.DoctorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request := &models.DoctorRequest{
		ID:           m.id("dvr"),
		UserID:       userID,
		Wallet:       wallet,
		DocumentPath: documentPath,
		Status:       "pending",
		SubmittedAt:  time.Now().UTC(),
	}
	m.requests[request.ID] = request
	return request, nil
}

func (m *MockStore) ListDoctorRequests(ctx context.Context, status string) ([]models.DoctorRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DoctorRequest
	for _, request := range m.requests {
		if request.Status == status {
			out = append(out, *request)
		}
	}
	return out, nil
}

func (m *MockStore) GetDoctorRequest(ctx context.Context, id string) (*models.DoctorRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	request, ok := m.requests[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return request, nil
}

func (m *MockStore) ReviewDoctorRequest(ctx context.Context, id, status, reviewerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[id]
	if !ok || request.Status != "pending" {
		return database.ErrNotFound
	}
	now := time.Now().UTC()
	request.Status = status
	request.ReviewedAt = &now
	request.ReviewedBy = &reviewerID
	return nil
}

func (m *MockStore) CreateRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens[token] = userID
	return nil
}

func (m *MockStore) ConsumeRefreshToken(ctx context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.refreshTokens[token]
	if !ok {
		return "", database.ErrInvalidToken
	}
	delete(m.refreshTokens, token)
	return userID, nil
}

func (m *MockStore) SaveWalletNonce(ctx context.Context, wallet, nonce, message string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[wallet] = message
	return nil
}

func (m *MockStore) ConsumeWalletNonce(ctx context.Context, wallet string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	message, ok := m.nonces[wallet]
	if !ok {
		return "", database.ErrInvalidToken
	}
	delete(m.nonces, wallet)
	return message, nil
}

// mockConsent implements ConsentService with an in-memory edge set.
type mockConsent struct {
	mu    sync.Mutex
	edges map[[2]common.Address]bool

	GrantErr  error
	RevokeErr error
	CheckErr  error
}

func newMockConsent() *mockConsent {
	return &mockConsent{edges: make(map[[2]common.Address]bool)}
}

func (m *mockConsent) Grant(ctx context.Context, patient, doctor common.Address) (common.Hash, error) {
	if m.GrantErr != nil {
		return common.Hash{}, m.GrantErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[[2]common.Address{patient, doctor}] = true
	return common.HexToHash("0x01"), nil
}

func (m *mockConsent) Revoke(ctx context.Context, patient, doctor common.Address) (common.Hash, error) {
	if m.RevokeErr != nil {
		return common.Hash{}, m.RevokeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]common.Address{patient, doctor}
	if !m.edges[key] {
		return common.Hash{}, fmt.Errorf("grant consent: %w", ledger.ErrNoopToggle)
	}
	delete(m.edges, key)
	return common.HexToHash("0x02"), nil
}

func (m *mockConsent) Check(ctx context.Context, patient, doctor common.Address) (bool, error) {
	if m.CheckErr != nil {
		return false, m.CheckErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edges[[2]common.Address{patient, doctor}], nil
}

func (m *mockConsent) PatientsFor(ctx context.Context, doctor common.Address) ([]common.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []common.Address
	for key, granted := range m.edges {
		if granted && key[1] == doctor {
			out = append(out, key[0])
		}
	}
	return out, nil
}

// mockRecords implements RecordService.
type mockRecords struct {
	mu        sync.Mutex
	submitted []records.ClearPayload
	visible   []records.Record

	SubmitErr error
	ScanErr   error
}

func (m *mockRecords) Submit(ctx context.Context, caller, patient common.Address, payload records.ClearPayload) (common.Hash, error) {
	if m.SubmitErr != nil {
		return common.Hash{}, m.SubmitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, payload)
	return common.HexToHash("0x03"), nil
}

func (m *mockRecords) ScanVisibleTo(ctx context.Context, caller common.Address, role models.Role) ([]records.Record, error) {
	if m.ScanErr != nil {
		return nil, m.ScanErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible, nil
}

// mockLedgerAdmin implements LedgerAdmin.
type mockLedgerAdmin struct {
	mu       sync.Mutex
	approved map[common.Address]bool

	ApproveErr error
	RevokeErr  error
}

func newMockLedgerAdmin() *mockLedgerAdmin {
	return &mockLedgerAdmin{approved: make(map[common.Address]bool)}
}

func (m *mockLedgerAdmin) ApproveUser(ctx context.Context, from, addr common.Address) (common.Hash, error) {
	if m.ApproveErr != nil {
		return common.Hash{}, m.ApproveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approved[addr] = true
	return common.HexToHash("0x04"), nil
}

func (m *mockLedgerAdmin) RevokeUser(ctx context.Context, from, addr common.Address) (common.Hash, error) {
	if m.RevokeErr != nil {
		return common.Hash{}, m.RevokeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.approved, addr)
	return common.HexToHash("0x05"), nil
}

func (m *mockLedgerAdmin) IsApprovedUser(ctx context.Context, addr common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approved[addr], nil
}
