// Package auth issues and verifies the HS256 bearer tokens that guard the
// ChatLink HTTP API.
//
// Tokens carry only registered claims: a subject naming the operator, an
// issue time, an expiry and a unique ID. An expiry is mandatory.
//
// Usage:
//
//	token, err := auth.GenerateToken("operator", secret, time.Hour)
//	claims, err := auth.ParseToken(token, secret)
package auth
