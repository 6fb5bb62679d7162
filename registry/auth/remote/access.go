// Package remote implements an auth.AccessController that defers every
// decision to an external permission service over HTTP. The engine never
// holds user, organization or permission records itself; the remote service
// owns them.
//
// For each request the controller forwards the client's credentials along
// with the requested accesses encoded as token-style scope strings
// (`repository:myorg/app:push`) and acts on the service's verdict.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aerugo/aerugo"
	"github.com/aerugo/aerugo/internal/dcontext"
	"github.com/aerugo/aerugo/registry/auth"
)

type accessController struct {
	realm    string
	endpoint string
	client   *http.Client
}

var _ auth.AccessController = &accessController{}

type verdict struct {
	Allowed bool   `json:"allowed"`
	Account string `json:"account"`
}

func newAccessController(options map[string]interface{}) (auth.AccessController, error) {
	endpoint, present := options["endpoint"]
	if _, ok := endpoint.(string); !present || !ok {
		return nil, fmt.Errorf(`"endpoint" must be set for remote access controller`)
	}

	realm, present := options["realm"]
	if _, ok := realm.(string); !present || !ok {
		return nil, fmt.Errorf(`"realm" must be set for remote access controller`)
	}

	return &accessController{
		realm:    realm.(string),
		endpoint: endpoint.(string),
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Authorized forwards the request credentials and requested scopes to the
// permission service. A 2xx response with allowed=true grants access; a
// missing or rejected credential yields a basic-auth challenge.
func (ac *accessController) Authorized(ctx context.Context, accessRecords ...auth.Access) (context.Context, error) {
	req, err := dcontext.GetRequest(ctx)
	if err != nil {
		return nil, err
	}

	username, password, ok := req.BasicAuth()
	if !ok {
		return nil, &challenge{realm: ac.realm, err: auth.ErrAuthenticationFailure}
	}

	checkURL, err := url.Parse(ac.endpoint)
	if err != nil {
		return nil, err
	}

	q := checkURL.Query()
	q.Set("account", username)
	for _, access := range accessRecords {
		q.Add("scope", fmt.Sprintf("%s:%s:%s", access.Type, access.Resource.Name, access.Action))
	}
	checkURL.RawQuery = q.Encode()

	checkReq, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL.String(), nil)
	if err != nil {
		return nil, err
	}
	checkReq.SetBasicAuth(username, password)

	resp, err := ac.client.Do(checkReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &challenge{realm: ac.realm, err: auth.ErrAuthenticationFailure}
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("remote auth: unexpected status %d from %s", resp.StatusCode, ac.endpoint)
	}

	var v verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("remote auth: decoding verdict: %w", err)
	}

	if !v.Allowed {
		// Authentication succeeded but the service rejected the requested
		// scopes for this account.
		return nil, aerugo.ErrAccessDenied
	}

	account := v.Account
	if account == "" {
		account = username
	}

	dcontext.GetLogger(ctx).Debugf("remote auth granted %s access for %q", strings.Join(scopeStrings(accessRecords), ","), account)
	return auth.WithUser(ctx, auth.UserInfo{Name: account}), nil
}

func scopeStrings(accessRecords []auth.Access) []string {
	scopes := make([]string, 0, len(accessRecords))
	for _, access := range accessRecords {
		scopes = append(scopes, access.Action)
	}
	return scopes
}

type challenge struct {
	realm string
	err   error
}

var _ auth.Challenge = &challenge{}

// SetHeaders sets the basic challenge header on the response.
func (ch *challenge) SetHeaders(r *http.Request, w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", ch.realm))
}

func (ch *challenge) Error() string {
	return fmt.Sprintf("basic authentication challenge for realm %q: %s", ch.realm, ch.err)
}

func init() {
	auth.Register("remote", auth.InitFunc(newAccessController))
}
