package types

type RunMode string

const (
	// ModeLocal runs the API server with local developer defaults
	ModeLocal RunMode = "local"
	// ModeAPI runs just the API server
	ModeAPI RunMode = "api"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
)

// AuthProvider selects the collaborator that issued the bearer tokens
type AuthProvider string

const (
	// AuthProviderLocal validates self-issued HMAC tokens
	AuthProviderLocal AuthProvider = "local"
	// AuthProviderSupabase validates tokens issued by a Supabase auth instance
	AuthProviderSupabase AuthProvider = "supabase"
)
