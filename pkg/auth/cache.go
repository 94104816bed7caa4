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

package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/patrickmn/go-cache"
)

// refreshSkew is how long before expiry a cached token stops being served.
const refreshSkew = 15 * time.Second

// CachedCredential wraps a TokenCredential and serves cached tokens per
// audience until they come within refreshSkew of expiry. Enumerators for
// different audiences share one underlying credential, so this keeps
// token requests to one per audience per rotation.
type CachedCredential struct {
	inner  azcore.TokenCredential
	tokens *cache.Cache
	mu     sync.Mutex
}

var _ azcore.TokenCredential = &CachedCredential{}

func NewCachedCredential(inner azcore.TokenCredential) *CachedCredential {
	return &CachedCredential{
		inner:  inner,
		tokens: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// GetToken implements azcore.TokenCredential. Requests for the same scope set
// are serialized so a rotation triggers exactly one upstream request.
func (c *CachedCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	key := strings.Join(opts.Scopes, " ")

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.tokens.Get(key); ok {
		token := cached.(azcore.AccessToken)
		if time.Until(token.ExpiresOn) > refreshSkew {
			return token, nil
		}
	}

	token, err := c.inner.GetToken(ctx, opts)
	if err != nil {
		return azcore.AccessToken{}, err
	}
	c.tokens.Set(key, token, cache.NoExpiration)
	return token, nil
}
