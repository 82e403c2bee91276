/*
Package generic provides the domain-agnostic building blocks of the
workflow core.

KEY CONCEPTS:
  - Kind / Error: the failure taxonomy shared by every component
  - Date / Clock: calendar days and an injectable notion of "now"
  - Amount: a decimal quantity with a unit (day totals in summaries)
  - User / UserDirectory: read-only people directory
  - AuditEntry / AuditLog: append-only record of state transitions
  - Locker / KeyedMutex: per-key mutual exclusion

DESIGN PRINCIPLES:
  1. Immutability: audit entries are never modified, only appended
  2. Precision: amounts use decimal.Decimal, never float64 arithmetic
  3. Type Safety: distinct ID types so a user id is never passed as a request id

SEE ALSO:
  - timeoff/: the request lifecycle built on these types
  - chat/: the task fan-out built on these types
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const UnitDays Unit = "days"

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

func ZeroDays() Amount { return Amount{Value: decimal.Zero, Unit: UnitDays} }

func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Float64() float64 { f, _ := a.Value.Float64(); return f }

// =============================================================================
// USERS - Read-only directory consumed by the core
// =============================================================================

// User is a directory entry. Email is the contact identifier handed to the
// notification layer.
type User struct {
	ID       EntityID
	Name     string
	Email    string
	Role     string
	Archived bool
}

// Active reports whether the user may act and be notified.
func (u User) Active() bool { return !u.Archived }

// Contact returns the identifier used to notify the user.
func (u User) Contact() string {
	if u.Email != "" {
		return u.Email
	}
	return string(u.ID)
}
