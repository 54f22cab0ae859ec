package expenses

import (
	"time"

	"github.com/google/uuid"
)

// Category is the fixed set of expense categories.
type Category string

const (
	CategoryMaterials     Category = "Materials"
	CategoryLabor         Category = "Labor"
	CategoryEquipment     Category = "Equipment"
	CategoryTransport     Category = "Transport"
	CategoryUtilities     Category = "Utilities"
	CategoryPermitsFees   Category = "Permits & Fees"
	CategoryContractors   Category = "Contractors"
	CategoryMiscellaneous Category = "Miscellaneous"
)

// Categories lists every valid category, in display order.
var Categories = []Category{
	CategoryMaterials,
	CategoryLabor,
	CategoryEquipment,
	CategoryTransport,
	CategoryUtilities,
	CategoryPermitsFees,
	CategoryContractors,
	CategoryMiscellaneous,
}

// IsValid reports whether the category is one of the known set
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// PaymentMethod is how the expense was (or will be) paid.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "Cash"
	PaymentBankTransfer PaymentMethod = "Bank Transfer"
	PaymentCheque       PaymentMethod = "Cheque"
	PaymentCard         PaymentMethod = "Card"
	PaymentMobileMoney  PaymentMethod = "Mobile Money"
	PaymentOther        PaymentMethod = "Other"
)

// PaymentMethods lists every valid payment method.
var PaymentMethods = []PaymentMethod{
	PaymentCash,
	PaymentBankTransfer,
	PaymentCheque,
	PaymentCard,
	PaymentMobileMoney,
	PaymentOther,
}

// IsValid reports whether the payment method is one of the known set
func (m PaymentMethod) IsValid() bool {
	for _, known := range PaymentMethods {
		if m == known {
			return true
		}
	}
	return false
}

// ApprovalStatus is the expense approval state. pending is the only
// non-terminal state; approved and rejected never transition further.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// PaymentStatus tracks how much of the amount has actually been paid out,
// independent of approval.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusCredit  PaymentStatus = "credit"
	PaymentStatusPartial PaymentStatus = "partial"
)

// IsValid reports whether the payment status is one of the known set
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusCredit, PaymentStatusPartial:
		return true
	}
	return false
}

// Expense is a single expense record under a project.
type Expense struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	ProjectID      uuid.UUID      `db:"project_id" json:"project_id"`
	Title          string         `db:"title" json:"title"`
	Description    *string        `db:"description" json:"description,omitempty"`
	Amount         float64        `db:"amount" json:"amount"`
	Category       Category       `db:"category" json:"category"`
	PaymentMethod  PaymentMethod  `db:"payment_method" json:"payment_method"`
	ApprovalStatus ApprovalStatus `db:"approval_status" json:"approval_status"`
	PaymentStatus  PaymentStatus  `db:"payment_status" json:"payment_status"`
	PaidAmount     float64        `db:"paid_amount" json:"paid_amount"`
	ReceiptRef     *string        `db:"receipt_ref" json:"receipt_ref,omitempty"`

	CreatedBy     uuid.UUID `db:"created_by" json:"created_by"`
	CreatedByName string    `db:"created_by_name" json:"created_by_name"`

	ApprovedBy      *uuid.UUID `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedByName  *string    `db:"approved_by_name" json:"approved_by_name,omitempty"`
	ApprovedAt      *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	RejectionReason *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`

	ExpenseDate time.Time `db:"expense_date" json:"expense_date"`

	IsDeleted bool       `db:"is_deleted" json:"is_deleted"`
	DeletedBy *uuid.UUID `db:"deleted_by" json:"deleted_by,omitempty"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`

	// Set when an admin recorded the expense on behalf of a member.
	AddedByAdmin       bool       `db:"added_by_admin" json:"added_by_admin"`
	AddedByAdminID     *uuid.UUID `db:"added_by_admin_id" json:"added_by_admin_id,omitempty"`
	AddedByAdminName   *string    `db:"added_by_admin_name" json:"added_by_admin_name,omitempty"`
	ExpenseForUserID   *uuid.UUID `db:"expense_for_user_id" json:"expense_for_user_id,omitempty"`
	ExpenseForUserName *string    `db:"expense_for_user_name" json:"expense_for_user_name,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsPending reports whether the expense awaits a decision
func (e *Expense) IsPending() bool {
	return e.ApprovalStatus == ApprovalPending
}

// IsApproved reports whether the expense has been approved
func (e *Expense) IsApproved() bool {
	return e.ApprovalStatus == ApprovalApproved
}

// IsRejected reports whether the expense has been rejected
func (e *Expense) IsRejected() bool {
	return e.ApprovalStatus == ApprovalRejected
}

// PendingAmount returns the unpaid remainder
func (e *Expense) PendingAmount() float64 {
	return e.Amount - e.PaidAmount
}

// IsFullyPaid reports whether nothing remains to be paid out
func (e *Expense) IsFullyPaid() bool {
	return e.PaymentStatus == PaymentStatusPaid || e.PaidAmount >= e.Amount
}

// DisplayUserID resolves to the expense-for user when the expense was added
// on behalf of someone, otherwise the creator.
func (e *Expense) DisplayUserID() uuid.UUID {
	if e.ExpenseForUserID != nil {
		return *e.ExpenseForUserID
	}
	return e.CreatedBy
}

// DisplayName resolves symmetrically with DisplayUserID.
func (e *Expense) DisplayName() string {
	if e.ExpenseForUserName != nil {
		return *e.ExpenseForUserName
	}
	return e.CreatedByName
}

// NormalizePaidAmount forces the paid amount into agreement with the payment
// status: fully paid expenses carry the full amount, credit carries zero.
// Partial amounts are left as supplied and validated separately.
func NormalizePaidAmount(status PaymentStatus, amount, paidAmount float64) float64 {
	switch status {
	case PaymentStatusPaid:
		return amount
	case PaymentStatusCredit:
		return 0
	default:
		return paidAmount
	}
}
