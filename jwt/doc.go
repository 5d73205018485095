// Package jwt mints and verifies the signed access tokens of tokenauth.
//
// Access tokens carry the user UUID as subject, the numeric user id, roles,
// the device id and a random jti. Refresh tokens are opaque and never pass
// through this package.
package jwt
