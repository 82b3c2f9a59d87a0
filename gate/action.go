package gate

// Action is the verb half of a permission. Applications declare their own
// next to the CRUD set.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"
)
