package db

// Operation is the permission class a query requires.
type Operation string

const (
	OpRead  Operation = "read"
	OpWrite Operation = "write"
	OpList  Operation = "list"
)

// PermissionEngine decides whether a session may perform an operation on a
// path. The compiled rule tree implements it; AllowAll and DenyAll are the
// fixed policies used before rules are installed.
type PermissionEngine interface {
	HasPermission(path []string, operation Operation, session *Session) bool
}

// AllowAll grants every request. It is the default engine of a database
// constructed without rules.
type AllowAll struct{}

// HasPermission implements PermissionEngine.
func (AllowAll) HasPermission([]string, Operation, *Session) bool { return true }

// DenyAll rejects every request from non-root sessions. Servers install it
// until a rule file has been compiled.
type DenyAll struct{}

// HasPermission implements PermissionEngine.
func (DenyAll) HasPermission(_ []string, _ Operation, session *Session) bool {
	return session != nil && session.Root
}
