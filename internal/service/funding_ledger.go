package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/repository"
)

// Funding ledger: pure validation and payment-state logic for a project's
// funding schedule. All money math is exact decimal, never floats.

// ScheduleCheck is the result of validating a funding schedule against a
// project budget.
type ScheduleCheck struct {
	Valid          bool
	TotalAllocated decimal.Decimal
	Remaining      decimal.Decimal // budget minus total; negative when over
	Excess         decimal.Decimal // amount over budget, zero when within
}

// ValidateSchedule sums the schedule and checks it against the budget. Valid
// requires total <= budget, every amount positive and every due date set.
// Callers re-run this on every add/edit/remove, not just at submission.
func ValidateSchedule(entries []*repository.FundingDetail, budget decimal.Decimal) ScheduleCheck {
	total := decimal.Zero
	entriesOK := true
	for _, fd := range entries {
		if fd.Amount.LessThanOrEqual(decimal.Zero) || fd.DueDate == "" {
			entriesOK = false
		}
		total = total.Add(fd.Amount)
	}

	remaining := budget.Sub(total)
	excess := decimal.Zero
	if remaining.IsNegative() {
		excess = remaining.Neg()
	}

	return ScheduleCheck{
		Valid:          entriesOK && !remaining.IsNegative(),
		TotalAllocated: total,
		Remaining:      remaining,
		Excess:         excess,
	}
}

// AppendEntry adds an entry to a schedule without checking the budget. The
// caller re-validates afterward; drafts are allowed to go over budget and are
// only blocked at submit time.
func AppendEntry(entries []*repository.FundingDetail, entry *repository.FundingDetail) []*repository.FundingDetail {
	return append(entries, entry)
}

// MarkPaid transitions an entry to paid, stamping paidDate and paidBy
// together. Marking an already-paid entry is rejected.
func MarkPaid(fd *repository.FundingDetail, paidBy string, now time.Time) error {
	if fd.PaymentStatus == repository.PaymentStatusPaid {
		return apperr.New(apperr.CodeInvalidState, "funding entry is already paid")
	}
	fd.PaymentStatus = repository.PaymentStatusPaid
	fd.PaidDate = &now
	fd.PaidBy = &paidBy
	return nil
}

// MarkUnpaid reverts an entry to unpaid, clearing paidDate and paidBy.
// Payment state is not a one-way ratchet; no precondition beyond existence.
func MarkUnpaid(fd *repository.FundingDetail) {
	fd.PaymentStatus = repository.PaymentStatusUnpaid
	fd.PaidDate = nil
	fd.PaidBy = nil
}
