// Package domain defines shared domain constants and types.
package domain

const (
	// StatusCreator is the platform member status of a chat's owner.
	StatusCreator = "creator"
	// StatusAdministrator is the platform member status of a promoted admin.
	StatusAdministrator = "administrator"
	// StatusMember is the status of a regular participant.
	StatusMember = "member"
	// StatusLeft is the status of an identity that is not in the chat.
	StatusLeft = "left"
)

// HasAdminCapability reports whether a member status allows approving and
// declining join requests.
func HasAdminCapability(status string) bool {
	return status == StatusCreator || status == StatusAdministrator
}
