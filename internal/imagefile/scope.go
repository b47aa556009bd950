package imagefile

import (
	"context"
	"errors"
)

// Scope owns the files created through it. Close removes all of them and
// must be deferred right after NewScope.
type Scope struct {
	store *Store
	paths []string
}

// NewScope starts a new release scope on the store.
func (s *Store) NewScope() *Scope {
	return &Scope{store: s}
}

func (sc *Scope) FromBase64(payload, ext string) (string, error) {
	path, err := sc.store.FromBase64(payload, ext)
	if err != nil {
		return "", err
	}
	sc.paths = append(sc.paths, path)
	return path, nil
}

func (sc *Scope) FromURL(ctx context.Context, rawURL string) (string, error) {
	path, err := sc.store.FromURL(ctx, rawURL)
	if err != nil {
		return "", err
	}
	sc.paths = append(sc.paths, path)
	return path, nil
}

// Close removes every file in the scope. It is safe to call more than once.
func (sc *Scope) Close() error {
	var errs []error
	for _, path := range sc.paths {
		if err := sc.store.Remove(path); err != nil {
			errs = append(errs, err)
		}
	}
	sc.paths = nil
	return errors.Join(errs...)
}
