package license

import (
	"errors"
	"fmt"

	"skymaintain.app/licensing/internal/keycodec"
)

// Error taxonomy for license operations. Callers branch with errors.Is;
// the sign-in boundary collapses all of these into one generic reject
// message while admin surfaces and logs keep the precise reason.
var (
	// ErrMalformed and ErrTamperDetected resolve from the key string
	// and the secret alone, before any storage access.
	ErrMalformed      = keycodec.ErrMalformed
	ErrTamperDetected = keycodec.ErrTamperDetected

	ErrNotFound      = errors.New("license not found")
	ErrStateConflict = errors.New("license is in a conflicting state")
	ErrOrgMismatch   = errors.New("license is bound to a different organisation")
	ErrSuspended     = errors.New("license is suspended")
	ErrExpired       = errors.New("license has expired")
	ErrKeyExhausted  = errors.New("could not generate a unique license key")

	// ErrStoreUnavailable wraps persistence failures. The engine never
	// retries these; the billing provider's redelivery is the retry.
	ErrStoreUnavailable = errors.New("license store unavailable")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
