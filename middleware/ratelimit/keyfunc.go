package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"quota-gateway/middleware/ratelimit/domain"
)

// KeyFunc resolve quem está chamando.
type KeyFunc func(r *http.Request) domain.Key

// KeyOptions configura DefaultKeyFunc.
type KeyOptions struct {
	// UserFn devolve o id do usuário autenticado ("" se anônimo).
	UserFn func(r *http.Request) string
	// UserHeader é lido quando UserFn não resolve (ex: X-User-Id vindo do auth proxy).
	UserHeader string
	// SessionCookie é o nome do cookie de sessão.
	SessionCookie string
	// TrustXForwardedFor usa o primeiro IP do X-Forwarded-For no lugar do RemoteAddr.
	TrustXForwardedFor bool
}

// DefaultKeyFunc escolhe, nessa ordem: user:<id>, session:<id>, ip:<addr>, anonymous.
func DefaultKeyFunc(o KeyOptions) KeyFunc {
	return func(r *http.Request) domain.Key {
		if id := userID(r, o); id != "" {
			return domain.Key("user:" + id)
		}

		if o.SessionCookie != "" {
			if c, err := r.Cookie(o.SessionCookie); err == nil {
				if v := strings.TrimSpace(c.Value); v != "" {
					return domain.Key("session:" + v)
				}
			}
		}

		if ip := clientIP(r, o.TrustXForwardedFor); ip != "" {
			return domain.Key("ip:" + ip)
		}
		return "anonymous"
	}
}

func userID(r *http.Request, o KeyOptions) string {
	if o.UserFn != nil {
		if id := strings.TrimSpace(o.UserFn(r)); id != "" {
			return id
		}
	}
	if o.UserHeader != "" {
		return strings.TrimSpace(r.Header.Get(o.UserHeader))
	}
	return ""
}

func clientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	return addr
}
