package rbac

// Role constants. A caller holds exactly one role per deal, the strongest that applies.
const (
	RoleUser        = "user"        // any authenticated caller
	RoleParticipant = "participant" // buyer or seller of the deal
	RoleAdmin       = "admin"       // listed in ESCROW_ADMIN_IDS
)

// Permission constants
const (
	PermCreateDeal      = "create_deal"
	PermFindDeals       = "find_deals"
	PermInitiateDeposit = "initiate_deposit"
	PermRetryDeposit    = "retry_deposit"
	PermMarkDelivered   = "mark_delivered"
	PermRelease         = "release"
	PermOpenDispute     = "open_dispute"
	PermResolve         = "resolve"
	PermCancel          = "cancel"
	PermListAll         = "list_all_deals"
)

var userPermissions = []string{
	PermCreateDeal, PermFindDeals, PermInitiateDeposit,
	PermMarkDelivered, PermRelease, PermOpenDispute,
}

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleUser:        userPermissions,
	RoleParticipant: append([]string{PermRetryDeposit}, userPermissions...),
	RoleAdmin: append([]string{
		PermRetryDeposit, PermResolve, PermCancel, PermListAll,
	}, userPermissions...),
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// Resolve picks the strongest role: admin, then participant, then user.
func Resolve(admin, participant bool) string {
	switch {
	case admin:
		return RoleAdmin
	case participant:
		return RoleParticipant
	}
	return RoleUser
}

// IsFinancialOperation reports whether permission moves or settles held funds.
func IsFinancialOperation(permission string) bool {
	return permission == PermRelease || permission == PermResolve || permission == PermCancel
}
