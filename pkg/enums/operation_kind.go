package enums

// OperationKind classifies audit log entries.
type OperationKind string

const (
	OperationOrderCreated       OperationKind = "order_created"
	OperationOrderStatusChanged OperationKind = "order_status_changed"
	OperationCheckoutConfirmed  OperationKind = "checkout_confirmed"
)

// String implements fmt.Stringer.
func (o OperationKind) String() string {
	return string(o)
}
