package gate

import "context"

// Policy decides on a concrete resource once the profile has allowed the action.
type Policy[U any] interface {
	Can(ctx context.Context, user U, action Action, resource any) bool
}

// PolicyFunc adapts a plain function to the Policy interface.
type PolicyFunc[U any] func(ctx context.Context, user U, action Action, resource any) bool

func (f PolicyFunc[U]) Can(ctx context.Context, user U, action Action, resource any) bool {
	return f(ctx, user, action, resource)
}

// Route sends each action to its own policy and everything else to fallback.
// A nil fallback denies unrouted actions.
func Route[U any](fallback Policy[U], routes map[Action]Policy[U]) Policy[U] {
	return PolicyFunc[U](func(ctx context.Context, user U, action Action, resource any) bool {
		if p, ok := routes[action]; ok {
			return p.Can(ctx, user, action, resource)
		}
		return fallback != nil && fallback.Can(ctx, user, action, resource)
	})
}
