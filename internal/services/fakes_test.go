package services

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vaultplay/storefront-auth/internal/audit"
	"github.com/vaultplay/storefront-auth/internal/auth"
	"github.com/vaultplay/storefront-auth/internal/crypto"
	"github.com/vaultplay/storefront-auth/internal/db/models"
	"github.com/vaultplay/storefront-auth/internal/db/repositories"
	"github.com/vaultplay/storefront-auth/internal/notify"
	"golang.org/x/crypto/bcrypt"
)

// ---------------------------------------------------------------------------
// Clock
// ---------------------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var fastHasher = auth.Hasher{Cost: bcrypt.MinCost}

// ---------------------------------------------------------------------------
// Account store
// ---------------------------------------------------------------------------

type memAccounts struct {
	mu       sync.Mutex
	byID     map[string]*models.Account
	lastList repositories.AccountFilter
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: make(map[string]*models.Account)}
}

func clone(a *models.Account) *models.Account {
	cp := *a
	return &cp
}

func (m *memAccounts) insertLocked(a *models.Account) error {
	c := m.conflictsLocked(a.Username, a.Email, a.EmployeeID, "")
	if c.Any() {
		return &repositories.DuplicateError{Field: c.Fields()[0]}
	}
	m.byID[a.ID] = clone(a)
	return nil
}

func (m *memAccounts) conflictsLocked(username, email string, employeeID *string, excludeID string) repositories.Conflicts {
	var c repositories.Conflicts
	for id, a := range m.byID {
		if id == excludeID {
			continue
		}
		if a.Username == username {
			c.Username = true
		}
		if strings.EqualFold(a.Email, email) {
			c.Email = true
		}
		if employeeID != nil && a.EmployeeID != nil && *a.EmployeeID == *employeeID {
			c.EmployeeID = true
		}
	}
	return c
}

func (m *memAccounts) Create(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(a)
}

func (m *memAccounts) GetByID(_ context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		return clone(a), nil
	}
	return nil, nil
}

func (m *memAccounts) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if strings.EqualFold(a.Email, email) {
			return clone(a), nil
		}
	}
	return nil, nil
}

func (m *memAccounts) FindConflicts(_ context.Context, username, email string, employeeID *string, excludeID string) (repositories.Conflicts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflictsLocked(username, email, employeeID, excludeID), nil
}

func (m *memAccounts) SetCode(_ context.Context, id, codeHash string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	a.OTPHash = &codeHash
	a.OTPExpiresAt = &expiresAt
	return true, nil
}

func (m *memAccounts) consumeLocked(id, codeHash string) (*models.Account, bool) {
	a, ok := m.byID[id]
	if !ok || a.OTPHash == nil || *a.OTPHash != codeHash {
		return nil, false
	}
	a.OTPHash = nil
	a.OTPExpiresAt = nil
	return a, true
}

func (m *memAccounts) ConsumeLoginCode(_ context.Context, id, codeHash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.consumeLocked(id, codeHash)
	if ok {
		a.LastLoginAt = &at
	}
	return ok, nil
}

func (m *memAccounts) ConsumeRegistrationCode(_ context.Context, id, codeHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.consumeLocked(id, codeHash)
	if ok {
		a.IsVerified = true
	}
	return ok, nil
}

func (m *memAccounts) SetBan(_ context.Context, id string, banned bool, reason *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	if !banned {
		reason = nil
	}
	a.IsBanned = banned
	a.BanReason = reason
	return true, nil
}

func (m *memAccounts) UpdateProfile(_ context.Context, id, username, email string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	if c := m.conflictsLocked(username, email, nil, id); c.Any() {
		return nil, &repositories.DuplicateError{Field: c.Fields()[0]}
	}
	a.Username = username
	a.Email = email
	return clone(a), nil
}

func (m *memAccounts) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return false, nil
	}
	delete(m.byID, id)
	return true, nil
}

func (m *memAccounts) List(_ context.Context, f repositories.AccountFilter) ([]*models.Account, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastList = f
	out := []*models.Account{}
	for _, a := range m.byID {
		for _, r := range f.Roles {
			if a.Role == r {
				out = append(out, clone(a))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, len(out), nil
}

func (m *memAccounts) put(t *testing.T, a *models.Account) *models.Account {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NoError(t, m.insertLocked(a))
	return a
}

func (m *memAccounts) get(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		return clone(a)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Elevation request store
// ---------------------------------------------------------------------------

type memRequests struct {
	mu       sync.Mutex
	byID     map[string]*models.ElevationRequest
	accounts *memAccounts
}

func newMemRequests(accounts *memAccounts) *memRequests {
	return &memRequests{byID: make(map[string]*models.ElevationRequest), accounts: accounts}
}

func (m *memRequests) Create(_ context.Context, req *models.ElevationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if r.Used || r.Tier != req.Tier {
			continue
		}
		if r.Username == req.Username || strings.EqualFold(r.Email, req.Email) ||
			(r.EmployeeID != nil && req.EmployeeID != nil && *r.EmployeeID == *req.EmployeeID) {
			return &repositories.DuplicateError{Field: "username"}
		}
	}
	cp := *req
	m.byID[req.ID] = &cp
	return nil
}

func (m *memRequests) find(match func(*models.ElevationRequest) bool) *models.ElevationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if !r.Used && match(r) {
			cp := *r
			return &cp
		}
	}
	return nil
}

func (m *memRequests) FindPendingByEmail(_ context.Context, tier models.Tier, email string) (*models.ElevationRequest, error) {
	return m.find(func(r *models.ElevationRequest) bool {
		return r.Tier == tier && strings.EqualFold(r.Email, email)
	}), nil
}

func (m *memRequests) FindPendingByTokenHash(_ context.Context, tier models.Tier, tokenHash string) (*models.ElevationRequest, error) {
	return m.find(func(r *models.ElevationRequest) bool {
		return r.Tier == tier && r.ApprovalTokenHash == tokenHash
	}), nil
}

func (m *memRequests) FindPendingConflicts(_ context.Context, tier models.Tier, username, email string, employeeID *string, now time.Time) (repositories.Conflicts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c repositories.Conflicts
	for _, r := range m.byID {
		if r.Used || r.Tier != tier || !now.Before(r.ExpiresAt) {
			continue
		}
		c.Username = c.Username || r.Username == username
		c.Email = c.Email || strings.EqualFold(r.Email, email)
		c.EmployeeID = c.EmployeeID || (employeeID != nil && r.EmployeeID != nil && *r.EmployeeID == *employeeID)
	}
	return c, nil
}

func (m *memRequests) DeleteExpired(_ context.Context, tier models.Tier, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.byID {
		if !r.Used && (tier == "" || r.Tier == tier) && !now.Before(r.ExpiresAt) {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *memRequests) Approve(_ context.Context, requestID string, account *models.Account, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[requestID]
	if !ok || r.Used || !now.Before(r.ExpiresAt) {
		return repositories.ErrNotPending
	}
	m.accounts.mu.Lock()
	err := m.accounts.insertLocked(account)
	m.accounts.mu.Unlock()
	if err != nil {
		return err
	}
	r.Used = true
	r.UsedAt = &now
	r.AccountID = &account.ID
	return nil
}

func (m *memRequests) get(id string) *models.ElevationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.byID[id]; ok {
		cp := *r
		return &cp
	}
	return nil
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Record(_ context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingAudit) actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

type memAuditReader struct {
	filters repositories.AuditFilters
	limit   int
	offset  int
}

func (m *memAuditReader) ListAuditLogs(_ context.Context, f repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	m.filters, m.limit, m.offset = f, limit, offset
	return []*models.AuditLog{{ID: "log-1", Action: models.ActionLogin}}, 1, nil
}

type captureMailer struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (c *captureMailer) Send(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return c.err
}

func (c *captureMailer) last(t *testing.T) notify.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent, "expected a message to be sent")
	return c.sent[len(c.sent)-1]
}

var (
	tokenLine = regexp.MustCompile(`Approval token: ([0-9a-f]{64})`)
	codeLine  = regexp.MustCompile(`(?m)^\s+([0-9]{6})$`)
)

func (c *captureMailer) lastToken(t *testing.T) string {
	t.Helper()
	m := tokenLine.FindStringSubmatch(c.last(t).Body)
	require.Len(t, m, 2, "approval token not found in message")
	return m[1]
}

func (c *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	m := codeLine.FindStringSubmatch(c.last(t).Body)
	require.Len(t, m, 2, "code not found in message")
	return m[1]
}

type fakeSigner struct {
	calls []string
	err   error
}

func (f *fakeSigner) NewIdentity(identifier string) (*crypto.Identity, error) {
	f.calls = append(f.calls, identifier)
	if f.err != nil {
		return nil, f.err
	}
	return &crypto.Identity{
		PublicKey:           "-----BEGIN PUBLIC KEY-----\n" + identifier,
		EncryptedPrivateKey: "enc:" + identifier,
		Signature:           "sig:" + identifier,
	}, nil
}

func (f *fakeSigner) Verify(identifier, signatureHex, publicPEM string) bool {
	return signatureHex == "sig:"+identifier && strings.HasSuffix(publicPEM, identifier)
}

type fakeSessions struct {
	mu     sync.Mutex
	issued int
	err    error
}

func (f *fakeSessions) Issue(accountID string, role auth.Role) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", time.Time{}, f.err
	}
	f.issued++
	return "session-" + accountID + "-" + string(role), time.Time{}, nil
}

var errBoom = errors.New("boom")
