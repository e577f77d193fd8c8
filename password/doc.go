// Package password hashes and verifies administrator passwords.
//
// New hashes are bcrypt. Stored argon2id hashes in PHC form
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// are still verified, so accounts migrated from older systems can sign in
// and are re-hashed with bcrypt on their next password change.
//
// The package never logs or stores plaintext. [Validate] is the minimal
// policy applied when a password is set.
package password
