package core

// Roles
const (
	RoleCoordinator = "coordinator"
	RoleEvaluator   = "evaluator"
	RoleResearcher  = "researcher"
)

var AllRoles = []string{RoleCoordinator, RoleEvaluator, RoleResearcher}

// Actor is the authenticated identity behind a request.
// Authorization is done before any core service is invoked.
type Actor struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

func (a Actor) IsCoordinator() bool { return a.Role == RoleCoordinator }
func (a Actor) IsEvaluator() bool   { return a.Role == RoleEvaluator }
func (a Actor) IsResearcher() bool  { return a.Role == RoleResearcher }

func ValidRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}
