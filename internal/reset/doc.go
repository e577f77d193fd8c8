// Package reset drives the three step administrator password reset:
// request, verify and complete.
//
// Each step is chained to the previous one by a token. The request mints a
// primary token and mails it with a verification code; verify trades a
// correct code for a secondary token; complete needs both tokens and the
// recorded "email_verification" step before the password is changed. A
// completed session is kept briefly with status completed so that replays
// can be recognised and audited.
package reset
