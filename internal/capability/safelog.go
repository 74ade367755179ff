package capability

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// paramFields describes action parameters without revealing their values:
// a count, a short fingerprint and the hosts of URL or email values.
func paramFields(params map[string]any) []zap.Field {
	fields := []zap.Field{zap.Int("param_count", len(params))}
	if len(params) == 0 {
		return fields
	}
	fields = append(fields, zap.String("param_fingerprint", fingerprint(params)))
	if hosts := paramHosts(params); len(hosts) > 0 {
		fields = append(fields, zap.Strings("param_hosts", hosts))
	}
	return fields
}

func fingerprint(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, params[k])
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func paramHosts(params map[string]any) []string {
	seen := make(map[string]bool)
	var hosts []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if h := hostOf(t); h != "" && !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		case []string:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			for _, e := range t {
				walk(e)
			}
		}
	}
	for _, v := range params {
		walk(v)
	}
	sort.Strings(hosts)
	return hosts
}

func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
		return ""
	}
	if at := strings.LastIndexByte(s, '@'); at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\n") {
		domain := s[at+1:]
		if strings.Contains(domain, ".") {
			return strings.ToLower(domain)
		}
	}
	return ""
}
