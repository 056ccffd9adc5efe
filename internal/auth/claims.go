package auth

// Claim names used by the storefront tokens.
const (
	ClaimTokenID  = "jti"
	ClaimUser     = "user"
	ClaimIssuer   = "iss"
	ClaimAudience = "aud"
	ClaimExpiry   = "exp"
	ClaimIssuedAt = "iat"
)

// Claim is a single named value taken from a verified token.
type Claim struct {
	Name  string
	Value string
}

// ClaimSet is the flat list of claims exposed to authorization checks.
type ClaimSet []Claim

// FindClaim returns the value of the first claim called name.
// Absence is reported through ok and is never an error.
func FindClaim(claims ClaimSet, name string) (value string, ok bool) {
	for _, c := range claims {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Find is the method form of FindClaim.
func (c ClaimSet) Find(name string) (string, bool) {
	return FindClaim(c, name)
}
