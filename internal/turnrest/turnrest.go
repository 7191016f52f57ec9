// Package turnrest issues short-lived TURN credentials in the format coturn
// accepts with use-auth-secret:
//
//	username   = <expiry unix seconds>:<prefix>:<endpoint id>
//	credential = base64(hmac-sha1(shared secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Credentials is one issued username/credential pair.
type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, errors.New("turnrest: shared secret is required")
	case cfg.TTL < time.Second:
		return nil, errors.New("turnrest: ttl must be at least 1s")
	case cfg.UsernamePrefix == "":
		return nil, errors.New("turnrest: username prefix is required")
	case strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, errors.New("turnrest: username prefix must not contain ':'")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		now:    now,
	}, nil
}

// Issue signs credentials for id. An empty id gets a random one.
func (g *Generator) Issue(id string) (Credentials, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if strings.Contains(id, ":") {
		return Credentials{}, errors.New("turnrest: id must not contain ':'")
	}

	expires := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := strconv.FormatInt(expires.Unix(), 10) + ":" + g.prefix + ":" + id

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Expires:    expires,
	}, nil
}
