// Package storage provides durable per-account record stores for wrapped
// secret blobs. Backends exist for the local file system, HashiCorp Vault
// and S3-compatible object stores; a multi-backend wrapper adds redundancy.
//
// Every backend rewrites records wholesale. Partial updates are deliberately
// unsupported: the ciphertext, server-locked value and key id must always
// change together or not at all.
package storage
