package configuration

import (
	"regexp"
	"slices"
	"time"

	"hullclient/pkg/claims"
	"hullclient/pkg/token"
)

// Settings is the client configuration as supplied by callers (or decoded from
// JSON/YAML) and as returned by Store.GetAll.
type Settings struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Secret       string `json:"secret,omitempty" yaml:"secret,omitempty"`
	Organization string `json:"organization,omitempty" yaml:"organization,omitempty"`

	Domain      string `json:"domain,omitempty" yaml:"domain,omitempty"`
	Namespace   string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Prefix      string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Protocol    string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	FirehoseURL string `json:"firehoseUrl,omitempty" yaml:"firehoseUrl,omitempty"`

	SubjectType      string                  `json:"subjectType,omitempty" yaml:"subjectType,omitempty"`
	UserClaim        claims.Claim            `json:"userClaim,omitempty" yaml:"userClaim,omitempty"`
	AccountClaim     claims.Claim            `json:"accountClaim,omitempty" yaml:"accountClaim,omitempty"`
	AdditionalClaims *token.AdditionalClaims `json:"additionalClaims,omitempty" yaml:"additionalClaims,omitempty"`
	AccessToken      string                  `json:"accessToken,omitempty" yaml:"accessToken,omitempty"`
	ClaimSchema      int                     `json:"claimSchema,omitempty" yaml:"claimSchema,omitempty"`

	// FlushAt is the queue length that triggers an immediate firehose flush.
	FlushAt int `json:"flushAt,omitempty" yaml:"flushAt,omitempty"`
	// FlushAfter is the flush timer delay in milliseconds.
	FlushAfter int `json:"flushAfter,omitempty" yaml:"flushAfter,omitempty"`

	RequestID     string `json:"requestId,omitempty" yaml:"requestId,omitempty"`
	ConnectorName string `json:"connectorName,omitempty" yaml:"connectorName,omitempty"`
	// UserID is sent as Hull-User-Id on REST calls.
	UserID string `json:"userId,omitempty" yaml:"userId,omitempty"`
	// Sudo makes REST calls authenticate with the secret even when an access
	// token was derived.
	Sudo bool `json:"sudo,omitempty" yaml:"sudo,omitempty"`

	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// FlushAfterDuration returns FlushAfter as a duration.
func (s Settings) FlushAfterDuration() time.Duration {
	return time.Duration(s.FlushAfter) * time.Millisecond
}

// Credentials returns the signing credentials.
func (s Settings) Credentials() token.Credentials {
	return token.Credentials{ID: s.ID, Secret: s.Secret, AccessToken: s.AccessToken}
}

func (s Settings) isEmpty() bool {
	return s.ID == "" && s.Secret == "" && s.Organization == "" &&
		s.Domain == "" && s.Prefix == "" && s.Protocol == "" &&
		s.UserClaim.IsZero() && s.AccountClaim.IsZero()
}

func (s Settings) clone() Settings {
	out := s
	if s.AdditionalClaims != nil {
		ac := s.AdditionalClaims.Merge(token.AdditionalClaims{})
		if ac.Create != nil {
			ac.Create = token.Bool(*ac.Create)
		}
		if ac.Active != nil {
			ac.Active = token.Bool(*ac.Active)
		}
		if ac.Scopes != nil {
			ac.Scopes = slices.Clone(ac.Scopes)
		}
		out.AdditionalClaims = &ac
	}
	return out
}

var validObjectID = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

type validator func(v any) bool

var valid = struct {
	objectID, str, number, boolean, claim, additional validator
}{
	objectID: func(v any) bool { s, ok := v.(string); return ok && validObjectID.MatchString(s) },
	str:      func(v any) bool { s, ok := v.(string); return ok && s != "" },
	number:   func(v any) bool { n, ok := v.(int); return ok && n > 0 },
	boolean:  func(v any) bool { _, ok := v.(bool); return ok },
	claim:    func(v any) bool { c, ok := v.(claims.Claim); return ok && !c.IsZero() },
	additional: func(v any) bool {
		a, ok := v.(*token.AdditionalClaims)
		return ok && a != nil
	},
}

// field binds a settings key to its validator and accessors.
type field struct {
	valid validator
	get   func(*Settings) any
	set   func(*Settings, any)
}

func stringField(v validator, p func(*Settings) *string) field {
	return field{
		valid: v,
		get:   func(s *Settings) any { return *p(s) },
		set:   func(s *Settings, x any) { *p(s) = x.(string) },
	}
}

func intField(p func(*Settings) *int) field {
	return field{
		valid: valid.number,
		get:   func(s *Settings) any { return *p(s) },
		set:   func(s *Settings, x any) { *p(s) = x.(int) },
	}
}

func claimField(p func(*Settings) *claims.Claim) field {
	return field{
		valid: valid.claim,
		get:   func(s *Settings) any { return *p(s) },
		set:   func(s *Settings, x any) { *p(s) = x.(claims.Claim) },
	}
}

// required fields are checked in this order; the first failure is reported.
var required = []string{"id", "secret", "organization"}

var fields = map[string]field{
	"id":            stringField(valid.objectID, func(s *Settings) *string { return &s.ID }),
	"secret":        stringField(valid.str, func(s *Settings) *string { return &s.Secret }),
	"organization":  stringField(valid.str, func(s *Settings) *string { return &s.Organization }),
	"domain":        stringField(valid.str, func(s *Settings) *string { return &s.Domain }),
	"namespace":     stringField(valid.str, func(s *Settings) *string { return &s.Namespace }),
	"prefix":        stringField(valid.str, func(s *Settings) *string { return &s.Prefix }),
	"protocol":      stringField(valid.str, func(s *Settings) *string { return &s.Protocol }),
	"firehoseUrl":   stringField(valid.str, func(s *Settings) *string { return &s.FirehoseURL }),
	"subjectType":   stringField(valid.str, func(s *Settings) *string { return &s.SubjectType }),
	"accessToken":   stringField(valid.str, func(s *Settings) *string { return &s.AccessToken }),
	"requestId":     stringField(valid.str, func(s *Settings) *string { return &s.RequestID }),
	"connectorName": stringField(valid.str, func(s *Settings) *string { return &s.ConnectorName }),
	"userId":        stringField(valid.str, func(s *Settings) *string { return &s.UserID }),
	"version":       stringField(valid.str, func(s *Settings) *string { return &s.Version }),
	"userClaim":     claimField(func(s *Settings) *claims.Claim { return &s.UserClaim }),
	"accountClaim":  claimField(func(s *Settings) *claims.Claim { return &s.AccountClaim }),
	"flushAt":       intField(func(s *Settings) *int { return &s.FlushAt }),
	"flushAfter":    intField(func(s *Settings) *int { return &s.FlushAfter }),
	"claimSchema":   intField(func(s *Settings) *int { return &s.ClaimSchema }),
	"sudo": {
		valid: valid.boolean,
		get:   func(s *Settings) any { return s.Sudo },
		set:   func(s *Settings, x any) { s.Sudo = x.(bool) },
	},
	"additionalClaims": {
		valid: valid.additional,
		get: func(s *Settings) any {
			if s.AdditionalClaims == nil {
				return nil
			}
			return s.clone().AdditionalClaims
		},
		set: func(s *Settings, x any) { s.AdditionalClaims = x.(*token.AdditionalClaims) },
	},
}
