// Package drivercontrol implements the driver control protocol: a tool
// pauses, resumes and single-steps a graphics driver at frame granularity
// and inspects or changes its device clock modes.
//
// The Server lives inside the driver. The driver reports its lifecycle
// with FinishEarlyInit and FinishLateInit and calls FrameBoundary once per
// presented frame. The Client lives in the tool and issues one request at
// a time over a session.
//
// Request and response payloads are CBOR maps with integer keys.
package drivercontrol
