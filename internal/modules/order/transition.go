// README: Status transition table per actor role; pure, no storage access.
package order

// transitions is the adjacency set of the order state machine, keyed by the role allowed to drive each edge.
var transitions = map[Role]map[Status][]Status{
	RoleVendor: {
		StatusPending:   {StatusConfirmed},
		StatusConfirmed: {StatusPreparing},
		StatusPreparing: {StatusReadyForPickup},
	},
	RoleRider: {
		StatusReadyForPickup: {StatusPickedUp},
		StatusPickedUp:       {StatusOutForDelivery},
		StatusOutForDelivery: {StatusDelivered},
	},
	RoleAdmin: {
		StatusPending:        {StatusCancelled},
		StatusConfirmed:      {StatusCancelled},
		StatusPreparing:      {StatusCancelled},
		StatusReadyForPickup: {StatusCancelled},
		StatusPickedUp:       {StatusCancelled},
		StatusOutForDelivery: {StatusCancelled},
	},
	// payment collaborator
	RoleSystem: {
		StatusPending:        {StatusFailed, StatusRefunded},
		StatusConfirmed:      {StatusRefunded},
		StatusPreparing:      {StatusRefunded},
		StatusReadyForPickup: {StatusRefunded},
	},
}

// CanTransition reports whether role may move an order from current to requested.
func CanTransition(current, requested Status, role Role) bool {
	if current.Terminal() {
		return false
	}
	for _, s := range transitions[role][current] {
		if s == requested {
			return true
		}
	}
	return false
}

// cancellable lists the statuses an admin may cancel from.
func cancellable() []Status {
	out := make([]Status, 0, len(transitions[RoleAdmin]))
	for _, s := range Statuses {
		if CanTransition(s, StatusCancelled, RoleAdmin) {
			out = append(out, s)
		}
	}
	return out
}
