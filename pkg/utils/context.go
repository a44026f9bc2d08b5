package utils

type ContextKey string

const (
	AdminKey  ContextKey = "admin"
	UserIDKey string     = "user_id"
	EmailKey  string     = "email"
	ExpKey    string     = "exp"
)
