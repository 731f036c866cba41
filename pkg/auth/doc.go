// Package auth turns bearer credentials into chat identities.
//
// Credentials are HS256 JWTs signed with the server's app secret. The subject
// claim carries the user ID and a nickname claim carries the nickname.
// Verification is stateless; an exp claim is enforced when present.
//
// The Resolver reads the Authorization value from a CredentialSource, which
// abstracts over HTTP request headers and WebSocket connection_init
// parameters. Resolution never fails with an error: a missing, malformed or
// stale credential, or one whose user has since been deleted, resolves to no
// identity so that access rules can reject the operation uniformly.
package auth
