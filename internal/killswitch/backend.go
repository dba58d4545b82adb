package killswitch

import "context"

// Backend issues declarative profile mutations to the network
// configuration service. Implementations return *OperationError on failure
// and treat "already in the desired state" completions as success.
type Backend interface {
	CreateProfile(ctx context.Context, spec ProfileSpec) error
	ActivateProfile(ctx context.Context, name string) error
	DeactivateProfile(ctx context.Context, name string) error
	DeleteProfile(ctx context.Context, name string) error
}

// StateSource reports the names of defined and of currently active
// profiles. Implementations return *QueryError on failure.
type StateSource interface {
	DefinedProfiles(ctx context.Context) ([]string, error)
	ActiveProfiles(ctx context.Context) ([]string, error)
}
