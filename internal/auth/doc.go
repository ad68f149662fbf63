// Package auth authenticates dialog-relay API requests.
//
// # Tokens
//
// Users present HS256-signed JWTs as bearer tokens. The "sub" claim is the
// user id that scopes every conversation operation. Tokens are normally
// minted by the identity provider in front of the service; for local
// development the dialog-relay token command mints them with the same
// secret:
//
//	verifier, err := auth.NewJWTVerifier(secret, "")
//	token, err := verifier.Generate("user-123", 24*time.Hour)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware verifies the token and attaches an Identity to the
// request context. Handlers read it back with FromContext or UserID.
// Failures are answered with 401 and the {status, message} error envelope.
package auth
