package expenses

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func mustDate() time.Time {
	return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
}

func TestNormalizePaidAmount(t *testing.T) {
	// Fully paid always carries the full amount, whatever was supplied.
	assert.Equal(t, 500.0, NormalizePaidAmount(PaymentStatusPaid, 500, 0))
	assert.Equal(t, 500.0, NormalizePaidAmount(PaymentStatusPaid, 500, 123))

	// Credit always carries zero.
	assert.Equal(t, 0.0, NormalizePaidAmount(PaymentStatusCredit, 500, 123))

	// Partial passes through; validation bounds it elsewhere.
	assert.Equal(t, 200.0, NormalizePaidAmount(PaymentStatusPartial, 500, 200))
}

func TestExpense_PendingAmount(t *testing.T) {
	e := &Expense{Amount: 500, PaidAmount: 200, PaymentStatus: PaymentStatusPartial}
	assert.Equal(t, 300.0, e.PendingAmount())
	assert.False(t, e.IsFullyPaid())

	e.PaidAmount = 500
	assert.True(t, e.IsFullyPaid())
}

func TestExpense_DisplayUserFallsBackToCreator(t *testing.T) {
	creator := uuid.New()
	e := &Expense{CreatedBy: creator, CreatedByName: "Lee Labour"}
	assert.Equal(t, creator, e.DisplayUserID())
	assert.Equal(t, "Lee Labour", e.DisplayName())

	target := uuid.New()
	name := "Pat Plumber"
	e.ExpenseForUserID = &target
	e.ExpenseForUserName = &name
	assert.Equal(t, target, e.DisplayUserID())
	assert.Equal(t, "Pat Plumber", e.DisplayName())
}

func TestCategory_IsValid(t *testing.T) {
	assert.True(t, CategoryPermitsFees.IsValid())
	assert.False(t, Category("Snacks").IsValid())
}

func TestCreateInput_Validate(t *testing.T) {
	valid := CreateInput{
		Title:         "Cement",
		Amount:        100,
		Category:      CategoryMaterials,
		PaymentMethod: PaymentCash,
		PaymentStatus: PaymentStatusPaid,
		ExpenseDate:   mustDate(),
	}
	assert.Nil(t, valid.Validate())

	bad := valid
	bad.Amount = 0
	fields := bad.Validate()
	assert.Contains(t, fields, "amount")

	bad = valid
	bad.Title = ""
	fields = bad.Validate()
	assert.Contains(t, fields, "title")

	bad = valid
	bad.Category = "Snacks"
	bad.PaymentMethod = "IOU"
	fields = bad.Validate()
	assert.Contains(t, fields, "category")
	assert.Contains(t, fields, "payment_method")

	bad = valid
	bad.PaymentStatus = PaymentStatusPartial
	bad.PaidAmount = 100
	fields = bad.Validate()
	assert.Contains(t, fields, "paid_amount")

	ok := valid
	ok.PaymentStatus = PaymentStatusPartial
	ok.PaidAmount = 40
	assert.Nil(t, ok.Validate())
}
