// Package auth is the CMS authentication and authorisation core.
//
// It verifies credentials with bcrypt, tracks failed logins per account and
// locks the account for a cool-down once the threshold is reached, issues
// stateless HS256 bearer tokens, and evaluates (resource, action) grants.
//
// Tokens carry no server-side session. Every authenticated request reloads the
// account so deactivation or a lock that happens after issuance takes effect
// immediately. Admins bypass grants; every other role starts with none.
package auth
