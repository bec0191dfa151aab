package bus

import (
	"fmt"
	"strings"
)

// Devargs is a parsed virtual device specification
type Devargs struct {
	// Name is the device name, e.g. "net_ring0"
	Name string

	// Args is everything after the first comma, unparsed
	Args string
}

// ParseDevargs splits "name,key=value,..." at the first comma
func ParseDevargs(s string) (Devargs, error) {
	s = strings.TrimSpace(s)
	name, args, _ := strings.Cut(s, ",")
	if name == "" {
		return Devargs{}, &AddressError{Input: s, Reason: "empty device name"}
	}
	return Devargs{Name: name, Args: args}, nil
}

func (d Devargs) String() string {
	if d.Args == "" {
		return d.Name
	}
	return d.Name + "," + d.Args
}

// ParseKVArgs parses "k1=v1,k2=v2". Keys not in allowed are rejected when
// allowed is non-empty. A key without '=' maps to "".
func ParseKVArgs(args string, allowed ...string) (map[string]string, error) {
	kv := make(map[string]string)
	if strings.TrimSpace(args) == "" {
		return kv, nil
	}

	valid := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		valid[k] = true
	}

	for _, pair := range strings.Split(args, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if len(valid) > 0 && !valid[key] {
			return nil, fmt.Errorf("unknown argument %q", key)
		}
		kv[key] = value
	}
	return kv, nil
}
