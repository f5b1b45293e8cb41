package domain

// ParticipantRole differentiates the two sides of a support call.
type ParticipantRole string

const (
	RoleCustomer  ParticipantRole = "customer"
	RoleSupporter ParticipantRole = "supporter"
)

// Identity is the authenticated subject bound to a transport connection.
type Identity struct {
	UserID string
	Role   ParticipantRole
}
