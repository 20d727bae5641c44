package proposal

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/fixedpoint"
	"futarchy-core/internal/idhash"
)

const (
	// OneMinuteInSlots assumes 400ms slots.
	OneMinuteInSlots = 150

	// MaxAmmAgeSlots bounds how old a market may be when its proposal is
	// created.
	MaxAmmAgeSlots = 5 * OneMinuteInSlots

	// DefaultSlotsPerProposal is roughly three days.
	DefaultSlotsPerProposal = 3 * 24 * 60 * OneMinuteInSlots

	DefaultPassThresholdBps = 2000
	DefaultMinLiquidity     = 1_000_000
)

var validate = validator.New()

// DaoConfig holds the tunable DAO parameters.
type DaoConfig struct {
	PassThresholdBps                  uint64          `json:"pass_threshold_bps" toml:"pass_threshold_bps"`
	SlotsPerProposal                  uint64          `json:"slots_per_proposal" toml:"slots_per_proposal" validate:"gt=0"`
	TwapInitialObservation            fixedpoint.U128 `json:"twap_initial_observation" toml:"twap_initial_observation"`
	TwapMaxObservationChangePerUpdate fixedpoint.U128 `json:"twap_max_observation_change_per_update" toml:"twap_max_observation_change_per_update"`
	MinBaseFutarchicLiquidity         uint64          `json:"min_base_futarchic_liquidity" toml:"min_base_futarchic_liquidity" validate:"gt=0"`
	MinQuoteFutarchicLiquidity        uint64          `json:"min_quote_futarchic_liquidity" toml:"min_quote_futarchic_liquidity" validate:"gt=0"`
}

// DefaultDaoConfig returns a config with an initial price of 1.0 and a 1%
// step per update.
func DefaultDaoConfig() DaoConfig {
	return DaoConfig{
		PassThresholdBps:                  DefaultPassThresholdBps,
		SlotsPerProposal:                  DefaultSlotsPerProposal,
		TwapInitialObservation:            fixedpoint.NewU128(amm.PriceScale),
		TwapMaxObservationChangePerUpdate: fixedpoint.NewU128(amm.PriceScale / 100),
		MinBaseFutarchicLiquidity:         DefaultMinLiquidity,
		MinQuoteFutarchicLiquidity:        DefaultMinLiquidity,
	}
}

// Validate checks the config.
func (c DaoConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDaoConfig, err)
	}
	if c.TwapInitialObservation.IsZero() {
		return fmt.Errorf("%w: twap_initial_observation must be positive", ErrInvalidDaoConfig)
	}
	return nil
}

// ConfigOf returns the config currently held by d.
func ConfigOf(d *domain.Dao) DaoConfig {
	return DaoConfig{
		PassThresholdBps:                  d.PassThresholdBps,
		SlotsPerProposal:                  d.SlotsPerProposal,
		TwapInitialObservation:            d.TwapInitialObservation,
		TwapMaxObservationChangePerUpdate: d.TwapMaxObservationChangePerUpdate,
		MinBaseFutarchicLiquidity:         d.MinBaseFutarchicLiquidity,
		MinQuoteFutarchicLiquidity:        d.MinQuoteFutarchicLiquidity,
	}
}

func applyConfig(d *domain.Dao, c DaoConfig) {
	d.PassThresholdBps = c.PassThresholdBps
	d.SlotsPerProposal = c.SlotsPerProposal
	d.TwapInitialObservation = c.TwapInitialObservation
	d.TwapMaxObservationChangePerUpdate = c.TwapMaxObservationChangePerUpdate
	d.MinBaseFutarchicLiquidity = c.MinBaseFutarchicLiquidity
	d.MinQuoteFutarchicLiquidity = c.MinQuoteFutarchicLiquidity
}

// NewDao builds a DAO over (tokenMint, usdcMint). Its treasury is derived
// from the DAO address.
func NewDao(tokenMint, usdcMint domain.Address, nonce uint64, cfg DaoConfig) (*domain.Dao, error) {
	if tokenMint == usdcMint {
		return nil, fmt.Errorf("%w: token and usdc mints must differ", ErrInvalidDaoConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr := idhash.DaoAddress(tokenMint, usdcMint, nonce)
	d := &domain.Dao{
		Address:   addr,
		Treasury:  idhash.TreasuryAddress(addr),
		TokenMint: tokenMint,
		UsdcMint:  usdcMint,
		Nonce:     nonce,
	}
	applyConfig(d, cfg)
	return d, nil
}

// DaoUpdate changes the fields that are set.
type DaoUpdate struct {
	PassThresholdBps                  *uint64          `json:"pass_threshold_bps,omitempty"`
	SlotsPerProposal                  *uint64          `json:"slots_per_proposal,omitempty"`
	TwapInitialObservation            *fixedpoint.U128 `json:"twap_initial_observation,omitempty"`
	TwapMaxObservationChangePerUpdate *fixedpoint.U128 `json:"twap_max_observation_change_per_update,omitempty"`
	MinBaseFutarchicLiquidity         *uint64          `json:"min_base_futarchic_liquidity,omitempty"`
	MinQuoteFutarchicLiquidity        *uint64          `json:"min_quote_futarchic_liquidity,omitempty"`
}

// IsEmpty reports whether u changes nothing.
func (u DaoUpdate) IsEmpty() bool {
	return u == DaoUpdate{}
}

// UpdateDao applies u to d. Only the treasury may sign, which in practice
// means only an executed proposal can reconfigure its DAO. d is left
// untouched on error.
func UpdateDao(d *domain.Dao, signer domain.Address, u DaoUpdate) error {
	if signer != d.Treasury {
		return ErrUnauthorizedUpdate
	}

	c := ConfigOf(d)
	if u.PassThresholdBps != nil {
		c.PassThresholdBps = *u.PassThresholdBps
	}
	if u.SlotsPerProposal != nil {
		c.SlotsPerProposal = *u.SlotsPerProposal
	}
	if u.TwapInitialObservation != nil {
		c.TwapInitialObservation = *u.TwapInitialObservation
	}
	if u.TwapMaxObservationChangePerUpdate != nil {
		c.TwapMaxObservationChangePerUpdate = *u.TwapMaxObservationChangePerUpdate
	}
	if u.MinBaseFutarchicLiquidity != nil {
		c.MinBaseFutarchicLiquidity = *u.MinBaseFutarchicLiquidity
	}
	if u.MinQuoteFutarchicLiquidity != nil {
		c.MinQuoteFutarchicLiquidity = *u.MinQuoteFutarchicLiquidity
	}
	if err := c.Validate(); err != nil {
		return err
	}
	applyConfig(d, c)
	return nil
}
