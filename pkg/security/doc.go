/*
Package security seals asset SSH passwords at rest.

Passwords are encrypted with AES-256-GCM under a key derived from the
configured passphrase (security.passphrase). The stored form is the random
nonce followed by the ciphertext, so sealing the same password twice gives
different bytes. Without a passphrase assets can still be registered, but
not with a password.

	sealer, err := security.NewSealerFromPassphrase(cfg.Security.Passphrase)
	if err != nil { ... }
	err = sealer.SealSSHPassword(asset, "hunter2")
*/
package security
