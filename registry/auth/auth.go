// Package auth defines the permission oracle consulted before every
// registry operation.
//
// An access controller has a single Authorized method which checks that a
// request may perform one or more actions on a repository. Implementations
// register by name with a constructor accepting an options map:
//
//	options := map[string]interface{}{"realm": "registry"}
//	accessController, _ := auth.GetAccessController("silly", options)
//
// The router calls Authorized exactly once per request, before dispatch, so
// enforcement is identical on every path. User and organization management,
// credential issuance and the policy decision itself live outside this
// engine; implementations here only carry the request's identity to the
// decision point.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const (
	// ActionPull grants read access to a repository's content.
	ActionPull = "pull"
	// ActionPush grants write access: uploads, manifest and tag writes.
	ActionPush = "push"
	// ActionDelete grants explicit content deletion, an admin operation.
	ActionDelete = "delete"
)

// ErrAuthenticationFailure returned when authentication fails.
var ErrAuthenticationFailure = errors.New("authentication failure")

// UserInfo carries information about an authenticated/authorized client.
type UserInfo struct {
	Name string
}

// Resource describes a resource by type and name.
type Resource struct {
	Type string
	Name string
}

// Access describes a specific action that is requested or allowed for a
// given resource.
type Access struct {
	Resource
	Action string
}

// Challenge is a special error type which is used for HTTP 401 Unauthorized
// responses and is able to write the response with WWW-Authenticate
// challenge header values based on the error.
type Challenge interface {
	error

	// SetHeaders prepares the request to conduct a challenge response by
	// adding the an HTTP challenge header on the response message. Callers
	// are expected to set the appropriate HTTP status code (e.g. 401)
	// themselves.
	SetHeaders(r *http.Request, w http.ResponseWriter)
}

// AccessController controls access to registry resources based on a request
// and required access levels for a request.
type AccessController interface {
	// Authorized returns a non-nil error if the request is not granted the
	// given accesses. On success the returned context carries the
	// authorized user, retrievable with GetUser. The error may be of type
	// Challenge, in which case the caller should let the challenge set the
	// response headers.
	Authorized(ctx context.Context, access ...Access) (context.Context, error)
}

// CredentialAuthenticator is an object which is able to authenticate
// credentials.
type CredentialAuthenticator interface {
	AuthenticateUser(username, password string) error
}

// WithUser returns a context with the authorized user info.
func WithUser(ctx context.Context, user UserInfo) context.Context {
	return userInfoContext{
		Context: ctx,
		user:    user,
	}
}

type userInfoContext struct {
	context.Context
	user UserInfo
}

func (uic userInfoContext) Value(key interface{}) interface{} {
	switch key {
	case UserKey:
		return uic.user
	case UserNameKey:
		return uic.user.Name
	}

	return uic.Context.Value(key)
}

// GetUser returns the user info stored by WithUser, if any.
func GetUser(ctx context.Context) (UserInfo, bool) {
	user, ok := ctx.Value(UserKey).(UserInfo)
	return user, ok
}

var (
	// UserKey is used to get the user object from a user context
	UserKey = "auth.user"

	// UserNameKey is used to get the user name from a user context
	UserNameKey = "auth.user.name"
)

// InitFunc is the type of an AccessController factory function and is used
// to register the constructor for different AccessController backends.
type InitFunc func(options map[string]interface{}) (AccessController, error)

var accessControllers map[string]InitFunc

func init() {
	accessControllers = make(map[string]InitFunc)
}

// Register is used to register an InitFunc for an AccessController backend
// with the given name.
func Register(name string, initFunc InitFunc) error {
	if _, exists := accessControllers[name]; exists {
		return fmt.Errorf("name already registered: %s", name)
	}

	accessControllers[name] = initFunc

	return nil
}

// GetAccessController constructs an AccessController with the given options
// using the named backend.
func GetAccessController(name string, options map[string]interface{}) (AccessController, error) {
	if initFunc, exists := accessControllers[name]; exists {
		return initFunc(options)
	}

	return nil, fmt.Errorf("no access controller registered with name: %s", name)
}
