// Package session maps tenants onto browser-automation profiles and
// serializes work that drives the same profile.
package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Ref identifies the automation profile of one tenant.
type Ref struct {
	Name       string `json:"name"`
	ProfileDir string `json:"profileDir"`
}

type Namespace struct {
	baseDir string
}

func NewNamespace(baseDir string) *Namespace {
	return &Namespace{baseDir: baseDir}
}

// Resolve derives the session of a tenant. The same owner always maps to the
// same profile directory.
func (n *Namespace) Resolve(ownerID int64) Ref {
	name := fmt.Sprintf("session_%d", ownerID)
	return Ref{Name: name, ProfileDir: filepath.Join(n.baseDir, name)}
}

// Ensure creates the profile directory if it does not exist.
func (n *Namespace) Ensure(ref Ref) error {
	if err := os.MkdirAll(ref.ProfileDir, 0o750); err != nil {
		return errors.Wrapf(err, "create profile dir %s", ref.ProfileDir)
	}
	return nil
}

// Reset wipes the tenant's profile so the next connection has to pair again.
// Resetting a session that was never created is not an error.
func (n *Namespace) Reset(ownerID int64) (Ref, error) {
	ref := n.Resolve(ownerID)
	if err := os.RemoveAll(ref.ProfileDir); err != nil {
		return ref, errors.Wrapf(err, "remove profile dir %s", ref.ProfileDir)
	}
	return ref, nil
}
