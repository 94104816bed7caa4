/*
Portions Copyright (c) Microsoft Corporation.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tokengate pauses long-running enumerations across bearer token
// rotations. Multi-hour walks would otherwise see every request fail the
// moment the token expires; the gate guarantees at most one pause per
// rotation and that no request is issued with a token known to be expired.
package tokengate

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/go-logr/logr"

	"github.com/Azure/stormspotter/pkg/logging"
)

const (
	// refreshSkew is how long before expiry the gate closes.
	refreshSkew = 15 * time.Second
	// retryInterval is how long the gate sleeps between refresh attempts
	// while waiting for a token that outlives the old one.
	retryInterval = 5 * time.Second
)

// Gate publishes the current bearer token for one (credential, audience)
// pair and a binary ready state. Enumerators call Wait before every request
// and read Token for the Authorization header.
type Gate struct {
	cred  azcore.TokenCredential
	scope string
	name  string
	log   logr.Logger

	mu    sync.Mutex
	token azcore.AccessToken
	ready chan struct{} // closed while requests may proceed

	cancel context.CancelFunc
	done   chan struct{}
}

// New starts the background refresh task and returns the gate. The gate is
// not ready until the first token has been fetched; callers should Wait.
// Cancelling ctx stops the refresh task.
func New(ctx context.Context, cred azcore.TokenCredential, scope, name string) *Gate {
	ctx, cancel := context.WithCancel(ctx)
	g := &Gate{
		cred:   cred,
		scope:  scope,
		name:   name,
		log:    logr.FromContextOrDiscard(ctx).WithName("tokengate").WithValues(logging.Audience, scope),
		ready:  make(chan struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go g.refreshLoop(ctx)
	return g
}

// Wait blocks until the gate is ready or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ready := g.ready
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Token returns the current bearer token. Only meaningful after Wait.
func (g *Gate) Token() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.token.Token
}

// Close stops the background refresh task and waits for it to exit.
func (g *Gate) Close() {
	g.cancel()
	<-g.done
}

func (g *Gate) refreshLoop(ctx context.Context) {
	defer close(g.done)

	for {
		token, err := g.getToken(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// TokenRefreshFailure: back off and try again, gate stays closed.
			g.log.Error(err, "failed to refresh access token")
			if !sleep(ctx, retryInterval) {
				return
			}
			continue
		}

		g.open(token)

		// Close the gate refreshSkew before the token expires.
		if !sleep(ctx, time.Until(token.ExpiresOn)-refreshSkew) {
			return
		}

		g.close()
		g.log.Info("waiting for new access token, enumeration paused", logging.ObjectClass, g.name)

		// Refresh after expiration to be safe: keep polling until the
		// credential hands back a token that is actually still valid.
		for {
			token, err = g.getToken(ctx)
			if err == nil && token.ExpiresOn.After(time.Now()) {
				break
			}
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				g.log.Error(err, "failed to refresh access token")
			}
			if !sleep(ctx, retryInterval) {
				return
			}
		}

		g.open(token)
		g.log.Info("resuming enumeration", logging.ObjectClass, g.name)
	}
}

func (g *Gate) getToken(ctx context.Context) (azcore.AccessToken, error) {
	return g.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{g.scope}})
}

func (g *Gate) open(token azcore.AccessToken) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = token
	select {
	case <-g.ready:
		// already open
	default:
		close(g.ready)
	}
}

func (g *Gate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ready:
		g.ready = make(chan struct{})
	default:
		// already closed
	}
}

// sleep waits for d, returning false if ctx is done first. Negative and zero
// durations return immediately.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
