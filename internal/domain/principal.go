package domain

// Principal is the authenticated caller of the issuer API.
type Principal struct {
	Subject string
	Roles   []string
	Scopes  []string
}
