package models

// User roles recognized by the messaging core. The wider platform keeps
// its own role vocabulary; only "agent" carries meaning here (support
// agent listings).
const (
	RoleTenant = "tenant"
	RoleAgent  = "agent"
	RoleGuest  = "guest"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	// Agency scopes agent users to a tenant agency.
	Agency string `json:"agency,omitempty"`
	// Guest users are materialized on first message send and carry a
	// provided or synthesized email.
	Guest     bool  `json:"guest,omitempty"`
	CreatedTS int64 `json:"created_ts,omitempty"`
}
