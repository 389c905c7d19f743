// Package jwt signs and verifies the access and refresh tokens issued by the
// token service. One Manager handles exactly one token type; access and
// refresh managers are configured with distinct keys.
package jwt
