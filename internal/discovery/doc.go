// Package discovery finds D-Link devices announcing themselves on the
// local network.
//
// A listener joins the mDNS multicast group (224.0.0.251:5353) and
// watches for two announcement shapes: websocket-generation devices
// advertise a _dcp service and reveal their MAC to a throwaway sign-in
// probe, while SOAP-generation devices carry mac= and mid= pairs in
// their TXT records, split across datagrams and accumulated per source
// address.
//
// A learned MAC belonging to a managed device flows back to the fleet
// as an address or model update. Unknown MACs become candidates,
// published retained on dlink/discovery/candidate/<id> and listed by
// the API. Candidates are never promoted automatically: adding a
// device requires its PIN, which only the operator has.
package discovery
