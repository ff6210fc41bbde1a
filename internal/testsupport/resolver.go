package testsupport

import (
	"context"
	"fmt"

	"crashd/internal/packages"
)

// StubPackage is one installed package known to StubResolver.
type StubPackage struct {
	NVR         string
	Component   string
	Description string
	KeyID       string
}

// StubResolver is an in-memory package database keyed by file path.
type StubResolver struct {
	Files    map[string]string
	Packages map[string]StubPackage
	// Queries counts PackageForPath calls.
	Queries int
}

// NewStubResolver constructs an empty resolver.
func NewStubResolver() *StubResolver {
	return &StubResolver{Files: map[string]string{}, Packages: map[string]StubPackage{}}
}

// Install registers pkg as the owner of paths.
func (s *StubResolver) Install(pkg StubPackage, paths ...string) {
	s.Packages[pkg.NVR] = pkg
	for _, p := range paths {
		s.Files[p] = pkg.NVR
	}
}

func (s *StubResolver) PackageForPath(_ context.Context, path string) (string, error) {
	s.Queries++
	return s.Files[path], nil
}

func (s *StubResolver) Component(_ context.Context, nvr string) (string, error) {
	pkg, ok := s.Packages[nvr]
	if !ok {
		return "", fmt.Errorf("%s: %w", nvr, packages.ErrNotInstalled)
	}
	return pkg.Component, nil
}

func (s *StubResolver) Description(_ context.Context, nvr string) (string, error) {
	pkg, ok := s.Packages[nvr]
	if !ok {
		return "", fmt.Errorf("%s: %w", nvr, packages.ErrNotInstalled)
	}
	return pkg.Description, nil
}

func (s *StubResolver) SigningKeyID(_ context.Context, nvr string) (string, error) {
	pkg, ok := s.Packages[nvr]
	if !ok {
		return "", fmt.Errorf("%s: %w", nvr, packages.ErrNotInstalled)
	}
	return pkg.KeyID, nil
}

var _ packages.Resolver = (*StubResolver)(nil)
