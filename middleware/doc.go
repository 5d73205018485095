// Package middleware adapts tokenauth access-token validation to net/http.
//
// [Guard] reads the Authorization header, calls Engine.ValidateAccess and
// stores the [tokenauth.AuthResult] in the request context, where handlers
// read it with [AuthResultFromContext]. [RequireRole] layers a role check on
// top. Authentication decisions stay in the engine.
package middleware
