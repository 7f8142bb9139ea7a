package hull

import (
	"fmt"
	"strings"

	"hullclient/pkg/claims"
	"hullclient/pkg/configuration"
)

// logContext lists the fields every log line of a client carries, and that
// every firehose entry it produces is tagged with.
func logContext(s configuration.Settings) map[string]string {
	ctx := map[string]string{}
	put := func(k, v string) {
		if v != "" {
			ctx[k] = v
		}
	}
	put("organization", s.Organization)
	put("id", s.ID)
	put("connector_name", s.ConnectorName)
	put("subject_type", s.SubjectType)
	put("request_id", s.RequestID)

	for t, c := range map[claims.EntityType]claims.Claim{claims.User: s.UserClaim, claims.Account: s.AccountClaim} {
		switch {
		case c.IsID():
			put(string(t)+"_id", c.Ident())
		case c.IsObject():
			for _, k := range c.Keys() {
				v, _ := c.Field(k)
				if v == nil {
					continue
				}
				put(string(t)+"_"+strings.ToLower(k), fmt.Sprint(v))
			}
		}
	}
	return ctx
}

func entryContext(ctx map[string]string) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
