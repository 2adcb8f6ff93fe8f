package models

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusCompleted  OrderStatus = "Completed"
	OrderStatusShipped    OrderStatus = "Shipped"
)

// OrderStatuses lists every valid status in lifecycle order
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusCompleted,
	OrderStatusShipped,
}

// statusTransitions is the forward flow. Completed and Shipped are terminal.
var statusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCompleted, OrderStatusShipped},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusShipped},
	OrderStatusCompleted:  {},
	OrderStatusShipped:    {},
}

// ParseOrderStatus returns the status for s. Matching is exact.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(s)
	return status, status.Valid()
}

// Valid reports whether s is a member of the status enum
func (s OrderStatus) Valid() bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is a forward transition from s
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no forward transition leaves s
func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(statusTransitions[s]) == 0
}

func (s OrderStatus) String() string {
	return string(s)
}
