package orgcontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type ctxKey struct{}

// WithOrgID returns a context carrying the organization scope for the request.
func WithOrgID(ctx context.Context, orgID snowflake.ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, orgID)
}

// OrgIDFromContext extracts the organization scope, if any.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	orgID, ok := ctx.Value(ctxKey{}).(snowflake.ID)
	return orgID, ok
}
