// Package lightning abstracts the Lightning backend used by the mint
// to create invoices, poll their settlement status and pay
// outgoing invoices.
package lightning

import "context"

type PaymentStatus int

const (
	Succeeded PaymentStatus = iota
	Failed
	Pending
)

// Client interface to interact with a Lightning backend
type Client interface {
	CreateInvoice(amount uint64) (Invoice, error)
	InvoiceStatus(hash string) (Invoice, error)
	// SendPayment attempts payment of the invoice. It is a slow
	// network operation, callers must not hold any mint state lock
	// across it.
	SendPayment(ctx context.Context, request string, amount uint64) (PaymentResult, error)
	FeeReserve(amount uint64) uint64
}

type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Settled        bool
	Amount         uint64
	Expiry         uint64
}

type PaymentResult struct {
	Preimage      string
	PaymentStatus PaymentStatus
	// fee actually paid, in sats
	Fee uint64
}
