// Package discovery announces and finds bus routers with mDNS/DNS-SD.
//
// A router publishes one instance of _devbus._tcp. The SRV port is its TCP
// listener. The TXT record is keyed on the routing-domain prefix and the
// bus version the router accepts in ConnectRequest frames, plus the
// WebSocket endpoint when there is one:
//
//	busver=260 desc=lab-router prefix=1 wsport=27301 wspath=/bus
//
// Clients pick a router with a Finder, usually restricted with SpeaksBus
// so they never dial a router that would refuse them.
package discovery
