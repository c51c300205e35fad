package common

const (
	InvoiceStatusPending  = "pending"
	InvoiceStatusPaid     = "paid"
	InvoiceStatusCanceled = "canceled"
	InvoiceStatusExpired  = "expired"

	TransactionTypeTopUp  = "topup"
	TransactionTypeCharge = "charge"
	TransactionTypeRefund = "refund"

	TransactionStatusPending = "pending"
	TransactionStatusSuccess = "success"
	TransactionStatusFailed  = "failed"

	PaymentMethodQR = "qr"

	DefaultCurrency = "KGS"

	// money is kept with two fractional digits (tyiyn)
	AmountScale = 2

	IdempotencyKeyHeader = "Idempotency-Key"
)

// IsTerminalInvoiceStatus reports whether no further transitions are allowed.
func IsTerminalInvoiceStatus(status string) bool {
	switch status {
	case InvoiceStatusPaid, InvoiceStatusCanceled, InvoiceStatusExpired:
		return true
	}
	return false
}
