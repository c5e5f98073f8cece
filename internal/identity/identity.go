// Package identity authenticates ledger operators.
//
// It provides:
//   - TokenIssuer          issues and verifies RS256 operator JWTs
//   - LoadOrCreateSigningKey persists the RSA signing key across restarts
//   - RequireOperator      Gin middleware enforcing a Bearer operator token
//   - JWKSHandler          publishes the signing key for independent verifiers
package identity
