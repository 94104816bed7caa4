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
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
)

// caBundleEnvVar mirrors the variable the Python ecosystem uses for the same
// purpose, so existing deployments keep working.
const caBundleEnvVar = "REQUESTS_CA_BUNDLE"

// NewHTTPClient builds the HTTP client used for every raw HTTPS call and as
// the transporter for the azcore pipelines. certPath takes precedence over
// REQUESTS_CA_BUNDLE; with neither set, system trust applies.
func NewHTTPClient(certPath string) (*http.Client, error) {
	if certPath == "" {
		certPath = os.Getenv(caBundleEnvVar)
	}
	if certPath == "" {
		return http.DefaultClient, nil
	}

	pem, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle %s: %w", certPath, err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA bundle %s", certPath)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	return &http.Client{Transport: transport}, nil
}
