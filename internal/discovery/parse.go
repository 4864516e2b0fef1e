package discovery

import "bytes"

// containsService reports whether a raw mDNS datagram mentions a
// service label. DNS encodes each label with a length prefix, so the
// marker appears as <len>_dcp in the byte stream; matching the label
// with its prefix avoids false hits inside TXT values.
func containsService(data []byte, service string) bool {
	marker := append([]byte{byte(len(service))}, service...)
	return bytes.Contains(data, marker)
}

// extractTXTPairs pulls key=value strings out of a raw datagram. TXT
// record data is a run of length-prefixed character strings; the
// scanner walks every offset, accepts a byte as a length prefix when
// exactly that many printable bytes follow and they contain '=', and
// jumps past accepted strings so one announcement parses in a single
// left-to-right pass.
func extractTXTPairs(data []byte) map[string]string {
	pairs := make(map[string]string)
	for i := 0; i < len(data)-1; {
		length := int(data[i])
		if length == 0 || i+1+length > len(data) {
			i++
			continue
		}
		chunk := data[i+1 : i+1+length]
		key, value, ok := splitPair(chunk)
		if !ok {
			i++
			continue
		}
		pairs[key] = value
		i += 1 + length
	}
	if len(pairs) == 0 {
		return nil
	}
	return pairs
}

// splitPair validates a candidate TXT string: printable ASCII with a
// single leading key before '='.
func splitPair(chunk []byte) (key, value string, ok bool) {
	eq := -1
	for i, b := range chunk {
		if b < 0x20 || b > 0x7e {
			return "", "", false
		}
		if b == '=' && eq < 0 {
			eq = i
		}
	}
	if eq <= 0 {
		return "", "", false
	}
	return string(chunk[:eq]), string(chunk[eq+1:]), true
}
