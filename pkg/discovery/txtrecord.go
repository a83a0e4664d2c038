package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// EncodeTXT builds the TXT record strings for an announcement. The
// records are sorted by key so repeated announcements are identical.
func EncodeTXT(info *Info) []string {
	txt := map[string]string{
		TXTKeyVersion: info.Version,
		TXTKeyAuth:    info.Auth,
	}
	if info.TLS != "" {
		txt[TXTKeyTLS] = info.TLS
	}
	if info.Fingerprint != "" {
		txt[TXTKeyFingerprint] = info.Fingerprint
	}

	records := make([]string, 0, len(txt))
	for k, v := range txt {
		records = append(records, k+"="+v)
	}
	sort.Strings(records)
	return records
}

// DecodeTXT parses the TXT record strings of a discovered service.
func DecodeTXT(records []string) (*Info, error) {
	txt := make(map[string]string, len(records))
	for _, record := range records {
		key, value, found := strings.Cut(record, "=")
		if !found {
			// Key without value is a boolean flag.
			value = ""
		}
		if key != "" {
			txt[key] = value
		}
	}

	info := &Info{}

	var ok bool
	if info.Version, ok = txt[TXTKeyVersion]; !ok || info.Version == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}

	info.Auth = txt[TXTKeyAuth]
	if info.Auth != AuthMutual && info.Auth != AuthServer {
		return nil, fmt.Errorf("%w: auth %q", ErrInvalidTXTRecord, info.Auth)
	}

	info.TLS = txt[TXTKeyTLS]

	if fp, ok := txt[TXTKeyFingerprint]; ok {
		if !ValidateFingerprint(fp) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFingerprint, fp)
		}
		info.Fingerprint = fp
	}

	return info, nil
}

// txtSize returns the total encoded size of the TXT records.
func txtSize(records []string) int {
	size := 0
	for _, r := range records {
		// Each record is length-prefixed on the wire.
		size += len(r) + 1
	}
	return size
}
