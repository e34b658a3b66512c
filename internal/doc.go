// Package internal holds small helpers shared by the authflow engine:
// cryptographically random one-time codes and email redaction. Nothing in
// this package is part of the public API.
package internal
