// Package password hashes and verifies account passwords.
//
// New hashes are Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Accounts imported from older systems may still carry bcrypt hashes
// ($2a$, $2b$, $2y$). [Hasher] verifies both and reports bcrypt hashes as
// needing an upgrade so callers can rehash after the next successful login.
//
// This package never stores passwords and never logs them.
package password
