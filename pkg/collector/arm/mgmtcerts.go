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

package arm

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/Azure/stormspotter/pkg/logging"
)

// The classic Service Management API never got an ARM equivalent for
// listing management certificates, so this one call still speaks the old
// XML protocol.
const serviceManagementVersion = "2012-03-01"

type subscriptionCertificates struct {
	XMLName      xml.Name                  `xml:"SubscriptionCertificates"`
	Certificates []subscriptionCertificate `xml:"SubscriptionCertificate"`
}

type subscriptionCertificate struct {
	Thumbprint string `xml:"SubscriptionCertificateThumbprint"`
	Created    string `xml:"Created"`
}

// enumerateManagementCertificates lists the classic management certificates
// of a subscription. Most principals cannot read them; a Forbidden response
// skips the subscription silently rather than failing the walk.
func (e *Enumerator) enumerateManagementCertificates(ctx context.Context, subscriptionID string) error {
	if e.env.Management == "" {
		return nil
	}
	endpoint := strings.TrimRight(e.env.Management, "/")
	url := fmt.Sprintf("%s/%s/certificates", endpoint, subscriptionID)
	log := e.log.WithValues(logging.SubscriptionID, subscriptionID)

	token, err := e.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{e.env.ManagementScope()},
	})
	if err != nil {
		log.Error(err, "no token for the service management endpoint, skipping certificates")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Error(err, "bad service management URL, skipping certificates")
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+token.Token)
	req.Header.Set("x-ms-version", serviceManagementVersion)

	// Transport failures against the legacy endpoint never abort the
	// subscription walk.
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error(err, "service management request failed, skipping certificates")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		log.V(1).Info("no access to management certificates")
		return nil
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error(err, "reading service management response failed, skipping certificates")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		log.Info("unexpected service management response, skipping certificates", "status", resp.StatusCode)
		return nil
	}

	var certs subscriptionCertificates
	if err := xml.Unmarshal(payload, &certs); err != nil {
		return fmt.Errorf("decoding management certificates for %s: %w", subscriptionID, err)
	}

	for _, cert := range certs.Certificates {
		record := map[string]any{
			"id":             fmt.Sprintf("/subscriptions/%s/certificates/%s", subscriptionID, strings.ToLower(cert.Thumbprint)),
			"thumbprint":     cert.Thumbprint,
			"created":        cert.Created,
			"subscriptionId": subscriptionID,
		}
		if err := e.store(ctx, ClassCertificates, record); err != nil {
			return err
		}
	}
	return nil
}
