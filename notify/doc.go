// Package notify delivers security notifications (verification codes,
// lockout alerts, reset confirmations) to administrators and the security
// team.
//
// The authentication core only decides what to send and to whom. Delivery is
// done by a [Notifier]; [Dispatcher] wraps it so that a slow or failing
// channel can never block or fail a security decision.
package notify
