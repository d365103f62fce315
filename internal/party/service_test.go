package party

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dukaan-erp/dukaan-erp/internal/shared"
)

type memoryRepo struct {
	nextID   int64
	parties  map[int64]Party
	postings map[int64][]Posting
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, parties: map[int64]Party{}, postings: map[int64][]Posting{}}
}

func (m *memoryRepo) CreateParty(_ context.Context, p Party) (Party, error) {
	p.ID = m.nextID
	m.nextID++
	m.parties[p.ID] = p
	return p, nil
}

func (m *memoryRepo) GetParty(_ context.Context, id int64) (Party, error) {
	p, ok := m.parties[id]
	if !ok {
		return Party{}, fmt.Errorf("party %d: %w", id, shared.ErrNotFound)
	}
	return p, nil
}

func (m *memoryRepo) ListParties(_ context.Context, kind Kind) ([]Party, error) {
	var out []Party
	for id := int64(1); id < m.nextID; id++ {
		p, ok := m.parties[id]
		if !ok {
			continue
		}
		if kind != "" && p.Kind != kind {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memoryRepo) ListPostings(_ context.Context, partyID int64) ([]Posting, error) {
	return m.postings[partyID], nil
}

// post appends a posting and moves the stored balance the way a
// ledger posting would.
func (m *memoryRepo) post(partyID int64, day int, narration string, debit, credit decimal.Decimal) {
	m.postings[partyID] = append(m.postings[partyID], Posting{
		EntryID:   int64(len(m.postings[partyID]) + 1),
		Date:      time.Date(2026, 4, day, 0, 0, 0, 0, time.UTC),
		Narration: narration,
		Debit:     debit,
		Credit:    credit,
	})
	p := m.parties[partyID]
	p.Balance = p.Balance.Add(debit).Sub(credit)
	m.parties[partyID] = p
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, shared.AuditLog) error { return nil }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	return NewService(repo, noopAudit{}), repo
}

func TestCreatePartyStartsAtOpeningBalance(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.CreateParty(context.Background(), Party{
		Name:           "Sharma Traders",
		Kind:           KindCustomer,
		StateCode:      "27",
		OpeningBalance: dec("1500"),
	})
	require.NoError(t, err)
	require.True(t, p.Balance.Equal(dec("1500")))
}

func TestCreatePartyRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateParty(context.Background(), Party{Name: "X", Kind: "VENDOR", StateCode: "27"})
	require.Error(t, err)

	_, err = svc.CreateParty(context.Background(), Party{
		Name: "X", Kind: KindSupplier, StateCode: "27", CreditLimit: dec("-1"),
	})
	require.Error(t, err)
}

func TestStatementRunningBalance(t *testing.T) {
	svc, repo := newTestService(t)

	p, err := svc.CreateParty(context.Background(), Party{
		Name: "Gupta Kirana", Kind: KindCustomer, StateCode: "27",
	})
	require.NoError(t, err)

	repo.post(p.ID, 1, "credit sale INV-1", dec("500"), decimal.Zero)
	repo.post(p.ID, 5, "receipt RCPT-1", decimal.Zero, dec("200"))

	stmt, err := svc.Statement(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, stmt.Rows, 2)
	require.True(t, stmt.Rows[0].Balance.Equal(dec("500")))
	require.True(t, stmt.Rows[1].Balance.Equal(dec("300")))
	require.True(t, stmt.ClosingBalance.Equal(dec("300")))
	require.True(t, stmt.Consistent())
}

func TestStatementIncludesOpeningBalance(t *testing.T) {
	svc, repo := newTestService(t)

	p, err := svc.CreateParty(context.Background(), Party{
		Name: "Mehta & Sons", Kind: KindSupplier, StateCode: "24",
		OpeningBalance: dec("1000"),
	})
	require.NoError(t, err)

	repo.post(p.ID, 3, "payment PAY-9", dec("400"), decimal.Zero)

	stmt, err := svc.Statement(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, stmt.OpeningBalance.Equal(dec("1000")))
	require.True(t, stmt.ClosingBalance.Equal(dec("1400")))
}

func TestStatementSurfacesConsistencyFault(t *testing.T) {
	svc, repo := newTestService(t)

	p, err := svc.CreateParty(context.Background(), Party{
		Name: "Verma Stores", Kind: KindCustomer, StateCode: "09",
	})
	require.NoError(t, err)
	repo.post(p.ID, 2, "credit sale", dec("250"), decimal.Zero)

	// Corrupt the stored balance behind the service's back.
	corrupted := repo.parties[p.ID]
	corrupted.Balance = dec("999")
	repo.parties[p.ID] = corrupted

	stmt, err := svc.Statement(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrConsistencyFault)
	// The statement still comes back for investigation.
	require.True(t, stmt.ClosingBalance.Equal(dec("250")))
	require.True(t, stmt.StoredBalance.Equal(dec("999")))
	require.False(t, stmt.Consistent())
}

func TestStatementUnknownParty(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Statement(context.Background(), 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreditAvailable(t *testing.T) {
	svc, repo := newTestService(t)

	p, err := svc.CreateParty(context.Background(), Party{
		Name: "Joshi Retail", Kind: KindCustomer, StateCode: "27",
		CreditLimit: dec("1000"),
	})
	require.NoError(t, err)
	repo.post(p.ID, 4, "credit sale", dec("600"), decimal.Zero)

	available, enforced, err := svc.CreditAvailable(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, enforced)
	require.True(t, available.Equal(dec("400")))
}

func TestCreditAvailableZeroLimitUnenforced(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.CreateParty(context.Background(), Party{
		Name: "Cash Walkin", Kind: KindCustomer, StateCode: "27",
	})
	require.NoError(t, err)

	_, enforced, err := svc.CreditAvailable(context.Background(), p.ID)
	require.NoError(t, err)
	require.False(t, enforced)
}

func TestReconcileCollectsFaults(t *testing.T) {
	svc, repo := newTestService(t)

	clean, err := svc.CreateParty(context.Background(), Party{
		Name: "Clean Party", Kind: KindCustomer, StateCode: "27",
	})
	require.NoError(t, err)
	repo.post(clean.ID, 1, "sale", dec("100"), decimal.Zero)

	bad, err := svc.CreateParty(context.Background(), Party{
		Name: "Drifted Party", Kind: KindSupplier, StateCode: "24",
	})
	require.NoError(t, err)
	repo.post(bad.ID, 2, "bill", dec("80"), decimal.Zero)
	corrupted := repo.parties[bad.ID]
	corrupted.Balance = dec("75")
	repo.parties[bad.ID] = corrupted

	faults, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, faults, 1)
	require.Equal(t, bad.ID, faults[0].PartyID)
	require.True(t, faults[0].Derived.Equal(dec("80")))
	require.True(t, faults[0].Stored.Equal(dec("75")))
}
