package shared

import "context"

// Actor identifies the acting user and the store partition every read and write is scoped to.
type Actor struct {
	UserID  int64
	StoreID int64
}

// Valid reports whether both identifiers are present.
func (a Actor) Valid() bool {
	return a.UserID > 0 && a.StoreID > 0
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
