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

package tokengate_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azure/stormspotter/pkg/auth/tokengate"
)

// scriptedCredential plays back a fixed sequence of token lifetimes; the
// last entry repeats once the script runs out.
type scriptedCredential struct {
	mu        sync.Mutex
	lifetimes []time.Duration
	err       error
	calls     int
}

func (c *scriptedCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return azcore.AccessToken{}, c.err
	}
	idx := c.calls
	if idx >= len(c.lifetimes) {
		idx = len(c.lifetimes) - 1
	}
	c.calls++
	return azcore.AccessToken{
		Token:     fmt.Sprintf("token-%d", c.calls),
		ExpiresOn: time.Now().Add(c.lifetimes[idx]),
	}, nil
}

func (c *scriptedCredential) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestGateOpensAfterFirstToken(t *testing.T) {
	cred := &scriptedCredential{lifetimes: []time.Duration{time.Hour}}
	gate := tokengate.New(context.Background(), cred, "https://graph.microsoft.com/.default", "test")
	defer gate.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gate.Wait(ctx))
	assert.Equal(t, "token-1", gate.Token())
}

func TestGateStaysClosedWhileRefreshFails(t *testing.T) {
	cred := &scriptedCredential{err: fmt.Errorf("AADSTS700082: refresh token expired")}
	gate := tokengate.New(context.Background(), cred, "https://graph.microsoft.com/.default", "test")
	defer gate.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, gate.Wait(ctx), context.DeadlineExceeded)
	assert.Empty(t, gate.Token())
}

func TestGateRotatesToken(t *testing.T) {
	// The first token expires just past the refresh skew, forcing a
	// rotation almost immediately; the replacement lives for an hour.
	cred := &scriptedCredential{lifetimes: []time.Duration{
		15*time.Second + 100*time.Millisecond,
		time.Hour,
	}}
	gate := tokengate.New(context.Background(), cred, "https://graph.microsoft.com/.default", "test")
	defer gate.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gate.Wait(ctx))
	first := gate.Token()

	require.Eventually(t, func() bool {
		return cred.callCount() >= 2 && gate.Token() != first
	}, 5*time.Second, 20*time.Millisecond, "gate never rotated to a fresh token")

	require.NoError(t, gate.Wait(ctx))
	assert.NotEqual(t, first, gate.Token())
}

func TestGateCloseStopsRefresh(t *testing.T) {
	cred := &scriptedCredential{lifetimes: []time.Duration{time.Hour}}
	gate := tokengate.New(context.Background(), cred, "https://graph.microsoft.com/.default", "test")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gate.Wait(ctx))

	gate.Close()
	calls := cred.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, cred.callCount())
}
