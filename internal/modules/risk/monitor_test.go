package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugoke/ambervision/internal/domain"
)

// fakeDirectory serves one account, its optional profile, and a fixed
// admin list.
type fakeDirectory struct {
	account *domain.Account
	profile *domain.RiskProfile
	admins  []string
}

func (d *fakeDirectory) GetByID(id string) (*domain.Account, error) {
	if d.account != nil && d.account.ID == id {
		return d.account, nil
	}
	return nil, nil
}

func (d *fakeDirectory) GetRiskProfile(accountID string) (*domain.RiskProfile, error) {
	return d.profile, nil
}

func (d *fakeDirectory) ListAdminIDs() ([]string, error) {
	return d.admins, nil
}

// fakeSink records created alerts and answers dedup from its own state.
type fakeSink struct {
	created  []domain.Alert
	resolved []string
}

func (s *fakeSink) HasRecent(eventType domain.AlertEventType, matchKey string, window time.Duration) (bool, error) {
	if window <= 0 {
		return false, nil
	}
	cutoff := time.Now().Add(-window).Unix()
	for _, a := range s.created {
		if a.EventType == eventType && a.MatchKey == matchKey && a.CreatedAt >= cutoff {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeSink) Create(a domain.Alert) error {
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	s.created = append(s.created, a)
	return nil
}

func (s *fakeSink) ResolveByKey(eventType domain.AlertEventType, matchKey string) (int64, error) {
	s.resolved = append(s.resolved, string(eventType)+":"+matchKey)

	var kept []domain.Alert
	var n int64
	for _, a := range s.created {
		if a.EventType == eventType && a.MatchKey == matchKey {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.created = kept
	return n, nil
}

func overdraftContext() *domain.BatchContext {
	bctx := domain.NewBatchContext(domain.GroupKey{BankID: "ubs", PortfolioCode: "PF-7"}, "2026-08-28", "api")
	bctx.OwnerID = "owner-1"
	bctx.AccountID = "acc-1"
	return bctx
}

func riskAccount(authorizedOverdraft float64) *domain.Account {
	return &domain.Account{
		ID:                    "acc-1",
		AccountNumber:         "PF-7",
		BankID:                "ubs",
		OwnerID:               "owner-1",
		RelationshipManagerID: "rm-1",
		AuthorizedOverdraft:   authorizedOverdraft,
	}
}

func cashLine(currency string, value float64) domain.Position {
	return domain.Position{
		SecurityType: "cash_account",
		Currency:     currency,
		MarketValue:  value,
	}
}

func TestEvaluateCash_NetsPerCurrencyBeforeComparing(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(1000), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 24*time.Hour, 0, zerolog.Nop())

	// -5000 CHF offset by +4500 CHF nets to -500: within the limit.
	positions := []domain.Position{
		cashLine("CHF", -5000),
		cashLine("CHF", 4500),
	}

	require.NoError(t, m.EvaluateCash(overdraftContext(), positions))
	assert.Empty(t, sink.created)
}

func TestEvaluateCash_StrictlyExceedsRaisesAlert(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(1000), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 24*time.Hour, 0, zerolog.Nop())

	// Exactly at the limit: no alert.
	require.NoError(t, m.EvaluateCash(overdraftContext(), []domain.Position{cashLine("CHF", -1000)}))
	assert.Empty(t, sink.created)

	// One past the limit: alert to admins and the relationship manager.
	require.NoError(t, m.EvaluateCash(overdraftContext(), []domain.Position{cashLine("CHF", -1001)}))
	require.Len(t, sink.created, 1)
	alert := sink.created[0]
	assert.Equal(t, domain.EventUnauthorizedOverdraft, alert.EventType)
	assert.Equal(t, "acc-1", alert.MatchKey)
	assert.ElementsMatch(t, []string{"admin-1", "rm-1"}, alert.Recipients)
}

func TestEvaluateCash_ShortfallSummedAcrossCurrencies(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(1000), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 24*time.Hour, 0, zerolog.Nop())

	// Neither currency alone exceeds the limit, together they do.
	positions := []domain.Position{
		cashLine("CHF", -600),
		cashLine("USD", -600),
	}

	require.NoError(t, m.EvaluateCash(overdraftContext(), positions))
	require.Len(t, sink.created, 1)
	alert := sink.created[0]
	assert.Equal(t, "acc-1", alert.MatchKey)
	assert.Equal(t, "1200.00", alert.Metadata["shortfall"])
	assert.Equal(t, "200.00", alert.Metadata["excess"])
}

func TestEvaluateCash_ForeignCreditDoesNotOffsetShortfall(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(1000), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 24*time.Hour, 0, zerolog.Nop())

	// A large USD credit must not mask the CHF overdraft.
	positions := []domain.Position{
		cashLine("CHF", -2000),
		cashLine("USD", 50000),
	}

	require.NoError(t, m.EvaluateCash(overdraftContext(), positions))
	require.Len(t, sink.created, 1)
	assert.Equal(t, "acc-1", sink.created[0].MatchKey)
}

func TestEvaluateCash_DedupWindowSuppressesRepeat(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(0), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 24*time.Hour, 0, zerolog.Nop())

	positions := []domain.Position{cashLine("CHF", -500)}
	require.NoError(t, m.EvaluateCash(overdraftContext(), positions))
	require.NoError(t, m.EvaluateCash(overdraftContext(), positions))

	assert.Len(t, sink.created, 1)
}

func TestEvaluateCash_ClearedConditionResolves(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(0), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 24*time.Hour, 0, zerolog.Nop())

	require.NoError(t, m.EvaluateCash(overdraftContext(), []domain.Position{cashLine("CHF", -500)}))
	require.Len(t, sink.created, 1)

	// The account is funded again: the open alert resolves.
	require.NoError(t, m.EvaluateCash(overdraftContext(), []domain.Position{cashLine("CHF", 100)}))
	assert.Empty(t, sink.created)
	assert.Contains(t, sink.resolved, "unauthorized_overdraft:acc-1")
}

func TestEvaluateCash_VanishedCurrencyStillResolves(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(0), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 24*time.Hour, 0, zerolog.Nop())

	require.NoError(t, m.EvaluateCash(overdraftContext(), []domain.Position{cashLine("CHF", -500)}))
	require.Len(t, sink.created, 1)

	// The CHF account was closed out: no CHF lines at all in the next
	// batch, only an unrelated USD credit. The alert must still resolve.
	require.NoError(t, m.EvaluateCash(overdraftContext(), []domain.Position{cashLine("USD", 100)}))
	assert.Empty(t, sink.created)
	assert.Contains(t, sink.resolved, "unauthorized_overdraft:acc-1")

	// Same with no cash lines whatsoever.
	require.NoError(t, m.EvaluateCash(overdraftContext(), nil))
	assert.Empty(t, sink.created)
}

func breachSnapshot(equities, bonds, cash float64) *domain.PortfolioSnapshot {
	return &domain.PortfolioSnapshot{
		OwnerID:       "owner-1",
		BankID:        "ubs",
		PortfolioCode: "PF-7",
		SnapshotDate:  "2026-08-28",
		TotalValue:    equities + bonds + cash,
		Breakdown: map[string]float64{
			"equity": equities,
			"bond":   bonds,
			"cash":   cash,
		},
	}
}

func defaultProfile() *domain.RiskProfile {
	return &domain.RiskProfile{
		AccountID:         "acc-1",
		MaxCashPct:        20,
		MaxBondsPct:       50,
		MaxEquitiesPct:    60,
		MaxAlternativePct: 10,
	}
}

func TestEvaluateAllocations_NoProfileSkips(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(0), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 0, 0, zerolog.Nop())

	// 100% equities, but no profile means no limits.
	require.NoError(t, m.EvaluateAllocations(overdraftContext(), breachSnapshot(100000, 0, 0)))
	assert.Empty(t, sink.created)
}

func TestEvaluateAllocations_BreachAlertsAdminsAndRM(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(0), profile: defaultProfile(), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 0, 0, zerolog.Nop())

	// 70% equities against a 60% limit.
	require.NoError(t, m.EvaluateAllocations(overdraftContext(), breachSnapshot(70000, 20000, 10000)))

	require.Len(t, sink.created, 2)
	assert.Equal(t, "acc-1", sink.created[0].MatchKey)
	assert.Equal(t, []string{"admin-1"}, sink.created[0].Recipients)
	assert.Contains(t, sink.created[0].Message, "equities")
	assert.Equal(t, "acc-1|rm", sink.created[1].MatchKey)
	assert.Equal(t, []string{"rm-1"}, sink.created[1].Recipients)
}

func TestEvaluateAllocations_BreachAddressesTriggeringAdmin(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(0), profile: defaultProfile(), admins: []string{"admin-1", "admin-2"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 0, 0, zerolog.Nop())

	bctx := overdraftContext()
	bctx.TriggeredBy = "admin-2"

	require.NoError(t, m.EvaluateAllocations(bctx, breachSnapshot(70000, 20000, 10000)))

	require.Len(t, sink.created, 2)
	assert.Equal(t, []string{"admin-2"}, sink.created[0].Recipients)
	assert.Equal(t, []string{"rm-1"}, sink.created[1].Recipients)
}

func TestEvaluateAllocations_RMDistinctFromTriggeringAdminGetsAlert(t *testing.T) {
	account := riskAccount(0)
	account.RelationshipManagerID = "admin-1"
	dir := &fakeDirectory{account: account, profile: defaultProfile(), admins: []string{"admin-1", "admin-2"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 0, 0, zerolog.Nop())

	// The RM holds an admin role but did not trigger this run, so they
	// still get their own copy.
	bctx := overdraftContext()
	bctx.TriggeredBy = "admin-2"

	require.NoError(t, m.EvaluateAllocations(bctx, breachSnapshot(70000, 20000, 10000)))

	require.Len(t, sink.created, 2)
	assert.Equal(t, []string{"admin-2"}, sink.created[0].Recipients)
	assert.Equal(t, []string{"admin-1"}, sink.created[1].Recipients)
}

func TestEvaluateAllocations_WithinLimitsResolves(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(0), profile: defaultProfile(), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 0, 0, zerolog.Nop())

	require.NoError(t, m.EvaluateAllocations(overdraftContext(), breachSnapshot(70000, 20000, 10000)))
	require.Len(t, sink.created, 2)

	// Back within limits: both open alerts resolve.
	require.NoError(t, m.EvaluateAllocations(overdraftContext(), breachSnapshot(50000, 35000, 15000)))
	assert.Empty(t, sink.created)
}

func TestEvaluateAllocations_UnknownClassCountsAsAlternative(t *testing.T) {
	dir := &fakeDirectory{account: riskAccount(0), profile: defaultProfile(), admins: []string{"admin-1"}}
	sink := &fakeSink{}
	m := NewMonitor(dir, sink, 0, 0, zerolog.Nop())

	snap := &domain.PortfolioSnapshot{
		TotalValue: 100000,
		Breakdown: map[string]float64{
			"equity":             50000,
			"structured product": 30000, // 30% against a 10% alternative limit
			"cash":               20000,
		},
	}

	require.NoError(t, m.EvaluateAllocations(overdraftContext(), snap))
	require.NotEmpty(t, sink.created)
	assert.Contains(t, sink.created[0].Message, "alternative")
}

func TestFindBreaches_StrictlyGreaterOnly(t *testing.T) {
	profile := defaultProfile()

	// Exactly at every limit: no breach.
	snap := &domain.PortfolioSnapshot{
		TotalValue: 100000,
		Breakdown: map[string]float64{
			"cash":   20000,
			"bond":   50000,
			"equity": 30000,
		},
	}

	assert.Empty(t, findBreaches(snap, profile))
}
