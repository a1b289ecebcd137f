// Package interfaces defines the shared types, error taxonomy and component
// interfaces of the key-custody engine. Keeping them in one dependency-free
// package lets the challenge, cooperator, derivation, session and storage
// packages depend on each other's contracts without importing each other.
package interfaces
