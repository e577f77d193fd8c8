// Package account holds the hospital administrator records the
// authentication core reads, and the repositories that serve them.
//
// The core only reads accounts, hospital affiliations and password hashes,
// and writes two fields during password reset: the hash itself and the
// "must change password" flag. Everything else about an administrator is
// owned by the wider hospital backend.
package account
