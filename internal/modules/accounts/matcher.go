package accounts

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sugoke/ambervision/internal/domain"
)

// settlementSuffix matches trailing settlement-leg suffixes such as "-1" or
// "-12". Custodians append them inconsistently between position and cash
// movement files, so they are stripped before account lookup.
var settlementSuffix = regexp.MustCompile(`-\d+$`)

// NormalizeCode strips the settlement-leg suffix and normalizes casing.
// "PF-7-1" matches the account stored as "PF-7".
func NormalizeCode(portfolioCode string) string {
	code := strings.ToUpper(strings.TrimSpace(portfolioCode))
	return settlementSuffix.ReplaceAllString(code, "")
}

// Matcher resolves external portfolio codes to internal accounts.
// Pure lookup: a miss is a normal outcome, not an error.
type Matcher struct {
	repo *Repository
	log  zerolog.Logger
}

// NewMatcher creates a new account matcher
func NewMatcher(repo *Repository, log zerolog.Logger) *Matcher {
	return &Matcher{
		repo: repo,
		log:  log.With().Str("component", "account_matcher").Logger(),
	}
}

// Match resolves a portfolio code to its owning account. The exact code is
// tried first: stripping is only for settlement-leg variants, and an account
// number may itself end in a digit ("PF-7"). Returns nil when no active
// account matches; callers must treat that as "unmapped".
func (m *Matcher) Match(portfolioCode, bankID string) (*domain.Account, error) {
	exact := strings.ToUpper(strings.TrimSpace(portfolioCode))
	if exact == "" {
		return nil, nil
	}

	acc, err := m.repo.GetByNumber(exact, bankID)
	if err != nil {
		return nil, err
	}

	if acc == nil {
		if normalized := NormalizeCode(portfolioCode); normalized != exact && normalized != "" {
			acc, err = m.repo.GetByNumber(normalized, bankID)
			if err != nil {
				return nil, err
			}
		}
	}

	if acc == nil {
		m.log.Debug().
			Str("portfolio_code", portfolioCode).
			Str("bank_id", bankID).
			Msg("No account matches portfolio code")
	}

	return acc, nil
}
