// Package cred abstracts credential checking for the execution backend.
// The daemon verifies credentials at startup and can refresh them when an
// execution fails with an auth-shaped error.
package cred

import (
	"context"

	"github.com/teranos/pulsed/am"
)

// Provider is the contract a credential backend implements
type Provider interface {
	// Name is the provider identifier used in configuration
	Name() string

	// Check verifies credentials are currently usable
	Check(ctx context.Context) error

	// Refresh attempts to renew credentials
	Refresh(ctx context.Context) error
}

// noneProvider trusts the environment. Check and Refresh always succeed.
type noneProvider struct{}

func newNoneProvider(am.CredConfig) (Provider, error) { return noneProvider{}, nil }

func (noneProvider) Name() string                      { return "none" }
func (noneProvider) Check(context.Context) error       { return nil }
func (noneProvider) Refresh(ctx context.Context) error { return nil }
