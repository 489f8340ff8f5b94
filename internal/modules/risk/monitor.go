// Package risk evaluates imported portfolios against per-account limits:
// unauthorized overdrafts on netted cash balances and allocation breaches
// against the account's risk profile.
package risk

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sugoke/ambervision/internal/domain"
)

// AccountDirectory resolves accounts, their risk profiles and recipients.
type AccountDirectory interface {
	GetByID(id string) (*domain.Account, error)
	GetRiskProfile(accountID string) (*domain.RiskProfile, error)
	ListAdminIDs() ([]string, error)
}

// AlertSink receives raised alerts and answers dedup queries.
type AlertSink interface {
	HasRecent(eventType domain.AlertEventType, matchKey string, window time.Duration) (bool, error)
	Create(a domain.Alert) error
	ResolveByKey(eventType domain.AlertEventType, matchKey string) (int64, error)
}

// Monitor runs the risk checks after a group has been reconciled.
type Monitor struct {
	accounts       AccountDirectory
	alerts         AlertSink
	overdraftDedup time.Duration
	breachDedup    time.Duration
	log            zerolog.Logger
}

// NewMonitor creates a risk monitor with the configured dedup windows.
func NewMonitor(accounts AccountDirectory, alerts AlertSink, overdraftDedup, breachDedup time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		accounts:       accounts,
		alerts:         alerts,
		overdraftDedup: overdraftDedup,
		breachDedup:    breachDedup,
		log:            log.With().Str("module", "risk").Logger(),
	}
}

// EvaluateCash nets all cash positions of the group per currency, sums the
// absolute shortfall of every negative currency, and raises one
// unauthorized_overdraft alert for the account when that combined shortfall
// strictly exceeds the authorized overdraft. A cleared condition resolves
// the account's open alert, including when the group has no cash at all.
func (m *Monitor) EvaluateCash(bctx *domain.BatchContext, positions []domain.Position) error {
	if bctx.AccountID == "" {
		return nil
	}

	account, err := m.accounts.GetByID(bctx.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account for cash evaluation: %w", err)
	}
	if account == nil {
		return nil
	}

	// Net per currency first: a negative cash line offset by a positive one
	// in the same currency is not an overdraft.
	netByCurrency := make(map[string]decimal.Decimal)
	for _, pos := range positions {
		if !pos.IsCash() {
			continue
		}
		cur := strings.ToUpper(pos.Currency)
		netByCurrency[cur] = netByCurrency[cur].Add(decimal.NewFromFloat(pos.MarketValue))
	}

	// Positive currencies never offset negative ones: the shortfall is the
	// sum of absolute negative balances across currencies.
	negatives := make(map[string]decimal.Decimal)
	shortfall := decimal.Zero
	for currency, net := range netByCurrency {
		if net.IsNegative() {
			negatives[currency] = net
			shortfall = shortfall.Add(net.Neg())
		}
	}

	authorized := decimal.NewFromFloat(account.AuthorizedOverdraft)

	if shortfall.GreaterThan(authorized) {
		return m.raiseOverdraft(account, negatives, shortfall, shortfall.Sub(authorized))
	}

	if _, err := m.alerts.ResolveByKey(domain.EventUnauthorizedOverdraft, account.ID); err != nil {
		return fmt.Errorf("failed to resolve overdraft alert: %w", err)
	}

	return nil
}

func (m *Monitor) raiseOverdraft(account *domain.Account, negatives map[string]decimal.Decimal, shortfall, excess decimal.Decimal) error {
	recent, err := m.alerts.HasRecent(domain.EventUnauthorizedOverdraft, account.ID, m.overdraftDedup)
	if err != nil {
		return fmt.Errorf("failed to check overdraft dedup: %w", err)
	}
	if recent {
		m.log.Debug().
			Str("account_id", account.ID).
			Msg("Overdraft alert suppressed by dedup window")
		return nil
	}

	recipients, err := m.recipients(account)
	if err != nil {
		return err
	}

	currencies := make([]string, 0, len(negatives))
	for currency := range negatives {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)

	var parts []string
	balances := make(map[string]interface{}, len(negatives))
	for _, currency := range currencies {
		parts = append(parts, fmt.Sprintf("%s %s", negatives[currency].StringFixed(2), currency))
		balances[currency] = negatives[currency].StringFixed(2)
	}

	message := fmt.Sprintf("Combined cash shortfall of %s (%s) exceeds the authorized overdraft of %s by %s",
		shortfall.StringFixed(2), strings.Join(parts, ", "),
		decimal.NewFromFloat(account.AuthorizedOverdraft).StringFixed(2), excess.StringFixed(2))

	alert := domain.Alert{
		EventType:  domain.EventUnauthorizedOverdraft,
		MatchKey:   account.ID,
		Title:      fmt.Sprintf("Unauthorized overdraft on account %s", account.AccountNumber),
		Message:    message,
		Recipients: recipients,
		Metadata: map[string]interface{}{
			"account_id":           account.ID,
			"negative_balances":    balances,
			"shortfall":            shortfall.StringFixed(2),
			"authorized_overdraft": account.AuthorizedOverdraft,
			"excess":               excess.StringFixed(2),
		},
	}

	if err := m.alerts.Create(alert); err != nil {
		return fmt.Errorf("failed to create overdraft alert: %w", err)
	}

	m.log.Warn().
		Str("account_id", account.ID).
		Str("shortfall", shortfall.StringFixed(2)).
		Msg("Unauthorized overdraft detected")

	return nil
}

// EvaluateAllocations compares the group's asset allocation against the
// account's risk profile. Accounts without a profile are skipped: there are
// no default limits. All breached categories go into a single alert
// addressed to the admin who triggered the run, with a separate copy for
// the relationship manager when one is assigned and distinct.
func (m *Monitor) EvaluateAllocations(bctx *domain.BatchContext, snap *domain.PortfolioSnapshot) error {
	if bctx.AccountID == "" || snap == nil || snap.TotalValue <= 0 {
		return nil
	}

	account, err := m.accounts.GetByID(bctx.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load account for allocation evaluation: %w", err)
	}
	if account == nil {
		return nil
	}

	profile, err := m.accounts.GetRiskProfile(account.ID)
	if err != nil {
		return fmt.Errorf("failed to load risk profile: %w", err)
	}
	if profile == nil {
		m.log.Debug().Str("account_id", account.ID).Msg("No risk profile, skipping allocation check")
		return nil
	}

	breaches := findBreaches(snap, profile)
	adminKey := account.ID
	rmKey := account.ID + "|rm"

	if len(breaches) == 0 {
		if _, err := m.alerts.ResolveByKey(domain.EventAllocationBreach, adminKey); err != nil {
			return fmt.Errorf("failed to resolve breach alert: %w", err)
		}
		if _, err := m.alerts.ResolveByKey(domain.EventAllocationBreach, rmKey); err != nil {
			return fmt.Errorf("failed to resolve breach alert: %w", err)
		}
		return nil
	}

	admins, err := m.accounts.ListAdminIDs()
	if err != nil {
		return fmt.Errorf("failed to list admins: %w", err)
	}

	// The alert targets the admin who triggered the run. Scheduled runs
	// carry a system principal, not a user, so those fall back to all
	// admins.
	adminRecipients := admins
	if contains(admins, bctx.TriggeredBy) {
		adminRecipients = []string{bctx.TriggeredBy}
	}

	if err := m.raiseBreach(account, breaches, adminKey, adminRecipients); err != nil {
		return err
	}

	// The RM gets their own alert so their dedup state is independent of
	// the admin one.
	if rm := account.RelationshipManagerID; rm != "" && !contains(adminRecipients, rm) {
		if err := m.raiseBreach(account, breaches, rmKey, []string{rm}); err != nil {
			return err
		}
	}

	return nil
}

func (m *Monitor) raiseBreach(account *domain.Account, breaches []domain.Breach, matchKey string, recipients []string) error {
	recent, err := m.alerts.HasRecent(domain.EventAllocationBreach, matchKey, m.breachDedup)
	if err != nil {
		return fmt.Errorf("failed to check breach dedup: %w", err)
	}
	if recent {
		m.log.Debug().
			Str("account_id", account.ID).
			Str("match_key", matchKey).
			Msg("Breach alert suppressed by dedup window")
		return nil
	}

	var parts []string
	for _, b := range breaches {
		parts = append(parts, fmt.Sprintf("%s %.1f%% (limit %.1f%%)", b.Category, b.CurrentPct, b.LimitPct))
	}

	alert := domain.Alert{
		EventType:  domain.EventAllocationBreach,
		MatchKey:   matchKey,
		Title:      fmt.Sprintf("Allocation limit breach on account %s", account.AccountNumber),
		Message:    "Exceeded categories: " + strings.Join(parts, ", "),
		Recipients: recipients,
		Metadata: map[string]interface{}{
			"account_id": account.ID,
			"breaches":   breaches,
		},
	}

	if err := m.alerts.Create(alert); err != nil {
		return fmt.Errorf("failed to create breach alert: %w", err)
	}

	m.log.Warn().
		Str("account_id", account.ID).
		Int("breached_categories", len(breaches)).
		Msg("Allocation limit breach detected")

	return nil
}

// findBreaches folds the snapshot breakdown into the four profile categories
// and returns every category whose share strictly exceeds its limit.
func findBreaches(snap *domain.PortfolioSnapshot, profile *domain.RiskProfile) []domain.Breach {
	totals := map[string]decimal.Decimal{}
	for class, value := range snap.Breakdown {
		cat := profileCategory(class)
		totals[cat] = totals[cat].Add(decimal.NewFromFloat(value))
	}

	total := decimal.NewFromFloat(snap.TotalValue)
	limits := map[string]float64{
		"cash":        profile.MaxCashPct,
		"bonds":       profile.MaxBondsPct,
		"equities":    profile.MaxEquitiesPct,
		"alternative": profile.MaxAlternativePct,
	}

	var breaches []domain.Breach
	for _, cat := range []string{"cash", "bonds", "equities", "alternative"} {
		value, ok := totals[cat]
		if !ok {
			continue
		}
		pct, _ := value.Div(total).Mul(decimal.NewFromInt(100)).Float64()
		if pct > limits[cat] {
			breaches = append(breaches, domain.Breach{
				Category:   cat,
				CurrentPct: pct,
				LimitPct:   limits[cat],
			})
		}
	}

	return breaches
}

// profileCategory maps a custodian asset class onto the four categories the
// risk profile limits. Anything unrecognized counts as alternative.
func profileCategory(assetClass string) string {
	switch strings.ToLower(strings.TrimSpace(assetClass)) {
	case "cash", "liquidity", "cash_equivalent", "money_market":
		return "cash"
	case "bond", "bonds", "fixed_income", "fixed income":
		return "bonds"
	case "equity", "equities", "stock", "stocks":
		return "equities"
	default:
		return "alternative"
	}
}

func (m *Monitor) recipients(account *domain.Account) ([]string, error) {
	admins, err := m.accounts.ListAdminIDs()
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	recipients := admins
	if rm := account.RelationshipManagerID; rm != "" && !contains(recipients, rm) {
		recipients = append(recipients, rm)
	}
	return recipients, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
