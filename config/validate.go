package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errMissingOperator = errors.New("config: Operator account is required")
	errMissingEscrow   = errors.New("config: Escrow account is required")
	errMissingSymbol   = errors.New("config: Symbol is required")
	errMissingMainPool = errors.New("config: MainPool account is required")
)

const maxRateBps = 10_000

// Validate checks the invariants the engine depends on. It normalises
// whitespace in account names as a side effect.
func (c *Config) Validate() error {
	c.Operator = strings.TrimSpace(c.Operator)
	c.Escrow = strings.TrimSpace(c.Escrow)
	c.Symbol = strings.TrimSpace(c.Symbol)
	c.MainPool = strings.TrimSpace(c.MainPool)
	c.MainPoolRewardAccount = strings.TrimSpace(c.MainPoolRewardAccount)

	if c.Operator == "" {
		return errMissingOperator
	}
	if c.Escrow == "" {
		return errMissingEscrow
	}
	if c.Symbol == "" {
		return errMissingSymbol
	}
	if c.MainPool == "" {
		return errMissingMainPool
	}
	if c.MainPoolRewardAccount == "" {
		c.MainPoolRewardAccount = c.MainPool
	}
	if c.FeeBps > maxRateBps {
		return fmt.Errorf("config: FeeBps %d exceeds 100%%", c.FeeBps)
	}
	if c.MainPoolRewardBps > maxRateBps {
		return fmt.Errorf("config: MainPoolRewardBps %d exceeds 100%%", c.MainPoolRewardBps)
	}
	if c.CollateralFloor <= 0 {
		return fmt.Errorf("config: CollateralFloor must be positive, got %d", c.CollateralFloor)
	}
	if c.LockCoefficient <= 0 {
		return fmt.Errorf("config: LockCoefficient must be positive, got %d", c.LockCoefficient)
	}
	return nil
}
