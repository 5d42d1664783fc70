package jobkeep

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// performFunc is the type-erased shape every job definition reduces to:
// deserialize payload, invoke the user handler with the environment and
// (for RegisterWithConn definitions) the open transaction, return the
// handler's error unchanged.
type performFunc func(data json.RawMessage, env any, tx any) error

type jobVTable struct {
	envType   reflect.Type
	jobType   string
	performFn performFunc
}

var (
	globalRegistrationsMu sync.Mutex
	globalRegistrations   []jobVTable
)

// registerVTable appends one entry to the process-wide registration list.
// Called once per job definition, at the package-level var-initialization
// time of the caller's code, mirroring a module-init hook.
func registerVTable(v jobVTable) {
	globalRegistrationsMu.Lock()
	defer globalRegistrationsMu.Unlock()
	globalRegistrations = append(globalRegistrations, v)
}

// Registry is a process-wide mapping, filtered to one environment type,
// from job_type to its performFunc. Entries registered for a different
// environment type never resolve here, even though they share the same
// global registration list.
type Registry struct {
	envType reflect.Type
	entries map[string]jobVTable
}

// LoadRegistry builds the Registry for environment type E by filtering
// the global registrations to those declared with a *E environment
// reference. Duplicate job_type registrations for the same environment
// type are collected and returned together via *multierror.Error, rather
// than failing on the first one found.
func LoadRegistry[E any]() (*Registry, error) {
	envType := reflect.TypeFor[*E]()

	globalRegistrationsMu.Lock()
	defer globalRegistrationsMu.Unlock()

	reg := &Registry{
		envType: envType,
		entries: make(map[string]jobVTable),
	}

	var errs *multierror.Error
	for _, v := range globalRegistrations {
		if v.envType != envType {
			continue
		}
		if _, exists := reg.entries[v.jobType]; exists {
			errs = multierror.Append(errs, fmt.Errorf("duplicate job type registration: %q", v.jobType))
			continue
		}
		reg.entries[v.jobType] = v
	}

	return reg, errs.ErrorOrNil()
}

// perform looks up job_type and, if found, downcasts env and invokes the
// bound handler. Returns a *PerformError with the exact text "Unknown job
// type <tag>" when no entry exists, matching the declaration-time
// contract that an unregistered tag is a handled failure, never a crash.
func (r *Registry) perform(jobType string, data json.RawMessage, env any, tx any) error {
	v, ok := r.entries[jobType]
	if !ok {
		return NewPerformError(fmt.Sprintf("Unknown job type %s", jobType))
	}

	if reflect.TypeOf(env) != v.envType {
		return NewPerformError("Incorrect environment type.")
	}

	return v.performFn(data, env, tx)
}
