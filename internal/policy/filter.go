package policy

// PermissiveFilter accepts any text. Stands in until a real moderation
// backend is wired up.
type PermissiveFilter struct{}

func (PermissiveFilter) Allow(string) bool { return true }
