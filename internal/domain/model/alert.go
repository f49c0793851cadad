package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ========== Alert Rules ==========

// Comparison selects which side of the threshold fires a rule.
type Comparison string

const (
	Above Comparison = "above"
	Below Comparison = "below"
)

// ParseComparison accepts "above"/"below" in any case.
func ParseComparison(s string) (Comparison, error) {
	switch Comparison(strings.ToLower(strings.TrimSpace(s))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	}
	return "", fmt.Errorf("%w: unknown comparison %q", ErrInvalidRule, s)
}

// Matches reports whether price satisfies the comparison against threshold.
// Both sides are inclusive: above fires at >=, below at <=.
func (c Comparison) Matches(price, threshold decimal.Decimal) bool {
	switch c {
	case Above:
		return price.GreaterThanOrEqual(threshold)
	case Below:
		return price.LessThanOrEqual(threshold)
	}
	return false
}

// RuleState is the one-way Armed -> Fired state of a rule.
type RuleState int

const (
	RuleArmed RuleState = iota
	RuleFired
)

func (s RuleState) String() string {
	if s == RuleFired {
		return "fired"
	}
	return "armed"
}

// AlertRule is a user-defined threshold rule.
type AlertRule struct {
	ID         string          `json:"id"`
	Asset      AssetSymbol     `json:"asset"`
	Comparison Comparison      `json:"comparison"`
	Threshold  decimal.Decimal `json:"threshold"`
	State      RuleState       `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
	FiredAt    time.Time       `json:"fired_at"` // zero while armed
}

func (r AlertRule) Armed() bool { return r.State == RuleArmed }

// TriggerEvent is produced exactly once per firing of a rule.
type TriggerEvent struct {
	RuleID        string          `json:"rule_id"`
	Asset         AssetSymbol     `json:"asset"`
	Threshold     decimal.Decimal `json:"threshold"`
	Comparison    Comparison      `json:"comparison"`
	ObservedPrice decimal.Decimal `json:"observed_price"`
	TriggeredAt   time.Time       `json:"triggered_at"`
}

// Message renders the user-facing notification body.
func (e TriggerEvent) Message() string {
	return fmt.Sprintf("%s price is %s, alert condition met (%s %s)",
		e.Asset, e.ObservedPrice.String(), e.Comparison, e.Threshold.String())
}

// Title is the short headline used by desktop-style notifiers.
func (e TriggerEvent) Title() string {
	return "Price Alert: " + e.Asset
}

// ========== Notification permission ==========

// Permission mirrors the host's notification capability.
type Permission string

const (
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
	PermissionUndetermined Permission = "undetermined"
)

// ParsePermission maps config/env strings; "default" is the browser spelling of undetermined.
func ParsePermission(s string) Permission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "granted":
		return PermissionGranted
	case "denied":
		return PermissionDenied
	default:
		return PermissionUndetermined
	}
}
