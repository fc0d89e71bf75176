// Package ratelimit throttles envelope traffic per sender.
//
// The bus sheds overload per receiver through bounded inboxes; this package
// covers the other direction, bounding how fast any one sender may submit.
// The transport gateway uses it to keep a misbehaving remote peer from
// flooding the ecosystem: each peer gets a token bucket, frames beyond the
// budget are answered with a RATE_LIMITED error frame and never routed.
package ratelimit
