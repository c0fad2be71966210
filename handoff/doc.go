// Package handoff bridges the cookie-based web sign-in to a mobile client that
// cannot receive cookies.
//
// A mobile client opens the sign-in page with an expo-redirect query parameter
// holding a deep link. The Handler remembers that deep link in a short-lived
// marker cookie, lets the normal web flow run, and when the provider callback
// arrives it captures the session cookie the web handler sets and redirects to
// the deep link with the token as a session_token query parameter instead.
//
// In development an authBypass=true request skips the provider entirely and
// signs in as a fixed test user.
package handoff
