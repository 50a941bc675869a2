// Package connection decides when a bus client that lost its router tries
// to register again.
//
// Waits grow geometrically from Policy.Initial to Policy.Max. With
// DefaultPolicy a client retries after about 0.25s, 0.5s, 1s, 2s, 4s and
// 8s, then every 10s, each wait stretched by up to a quarter at random.
package connection
