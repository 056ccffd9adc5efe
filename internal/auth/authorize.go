package auth

import (
	"strconv"
	"time"
)

// Decision is the per-request authorization result.
type Decision int

const (
	Unauthorized Decision = iota
	Forbidden
	Allowed
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Forbidden:
		return "forbidden"
	default:
		return "unauthorized"
	}
}

// Outcome carries the decision together with the side effects the transport
// has to apply. Identity is set only when the decision is Allowed.
type Outcome struct {
	Decision     Decision
	ClearSession bool
	Identity     Identity
}

// Authorize evaluates the caller's claims against a required permission.
// Checks run in a fixed order and the first failing one decides:
//
//  1. no user claim: Unauthorized, session cleared
//  2. exp claim unparsable or not in the future: Unauthorized
//  3. user claim undecodable or without a permission set: Unauthorized, session cleared
//  4. permission missing: Forbidden, session kept
//  5. otherwise Allowed
func Authorize(claims ClaimSet, required string, now time.Time) Outcome {
	raw, ok := FindClaim(claims, ClaimUser)
	if !ok {
		return Outcome{Decision: Unauthorized, ClearSession: true}
	}
	if exp, ok := FindClaim(claims, ClaimExpiry); ok {
		sec, err := strconv.ParseInt(exp, 10, 64)
		if err != nil || !now.Before(time.Unix(sec, 0)) {
			return Outcome{Decision: Unauthorized}
		}
	}
	ident, err := DecodeIdentity(raw)
	if err != nil {
		return Outcome{Decision: Unauthorized, ClearSession: true}
	}
	if !ident.HasPermission(required) {
		return Outcome{Decision: Forbidden}
	}
	return Outcome{Decision: Allowed, Identity: ident}
}
