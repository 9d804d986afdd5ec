package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
)

// APIKeyHeader carries a caller credential.
const APIKeyHeader = "X-API-Key"

type principalKey struct{}

// WithPrincipal attaches an authenticated principal to ctx. Authentication
// middleware upstream of the limiter calls this.
func WithPrincipal(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, principalKey{}, id)
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(principalKey{}).(string)
	return id, ok && id != ""
}

// Proxies lists the reverse proxies whose forwarding headers are believed.
// A nil *Proxies trusts nobody and keys on the socket peer.
type Proxies struct {
	nets []*net.IPNet
}

// ParseProxies accepts CIDRs ("10.0.0.0/8") and bare addresses.
func ParseProxies(entries []string) (*Proxies, error) {
	p := &Proxies{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", e)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			e = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		p.nets = append(p.nets, n)
	}
	return p, nil
}

func (p *Proxies) trusted(addr string) bool {
	if p == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func peerHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP returns the socket peer unless it is a trusted proxy, in which
// case X-Forwarded-For is walked right to left to the first untrusted hop.
func (p *Proxies) ClientIP(r *http.Request) string {
	peer := peerHost(r)
	if !p.trusted(peer) {
		return peer
	}
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if net.ParseIP(hop) == nil {
			break
		}
		client = hop
		if !p.trusted(hop) {
			return hop
		}
	}
	if client == peer {
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xr) != nil {
			return xr
		}
	}
	return client
}

// CallerKey selects the bucket key for a request:
// credential, then authenticated principal, then source address.
// Credentials are hashed so raw keys never reach the store.
func (p *Proxies) CallerKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(APIKeyHeader)); k != "" {
		sum := sha256.Sum256([]byte(k))
		return "key:" + hex.EncodeToString(sum[:8])
	}
	if id, ok := PrincipalFrom(r.Context()); ok {
		return "user:" + id
	}
	return "ip:" + p.ClientIP(r)
}

// Middleware rejects requests whose caller has exhausted its bucket.
// proxies may be nil.
func Middleware(b *TokenBucket, proxies *Proxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, info := b.Allow(r.Context(), proxies.CallerKey(r), 1)

			reset := int(math.Ceil(info.ResetAfter.Seconds()))
			w.Header().Set("X-RateLimit-Limit", strconv.FormatFloat(info.Capacity, 'f', -1, 64))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Floor(info.Remaining))))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))

			if !allowed {
				retry := reset
				if b.cfg.RefillPerSec > 0 {
					retry = int(math.Ceil(1 / b.cfg.RefillPerSec))
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   "rate limit exceeded",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
