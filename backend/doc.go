// Package backend is the registry of compute backends.
//
// Backends register a factory from an init function, so importing a backend
// package is enough to make it selectable:
//
//	import _ "github.com/zarigata/Erathia/backend/software"
//
// Use [Default] to create the best available backend, or [Get] to request
// one by name:
//
//	b, err := backend.Get(backend.Software)
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
package backend
