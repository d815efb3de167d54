package sellerapi

import (
	"fmt"
	"strconv"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// AccessClaims is what a verified access token says about its bearer.
type AccessClaims struct {
	SellerID  int64
	SessionID string
	Epoch     int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// accessTokens issues and verifies PASETO v4.public access tokens.
//
// The epoch claim ties a token to its session's access epoch; bumping the
// epoch invalidates every access token issued before it.
type accessTokens struct {
	issuer string
	ttl    time.Duration
	skew   time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func newAccessTokens(cfg Config) (*accessTokens, error) {
	secret := paseto.NewV4AsymmetricSecretKey()
	if cfg.SecretKeyHex != "" {
		k, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: paseto secret key", ErrConfig)
		}
		secret = k
	}
	return &accessTokens{
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTTL,
		skew:   cfg.ClockSkew,
		secret: secret,
		public: secret.Public(),
	}, nil
}

func (m *accessTokens) PublicKeyHex() string { return m.public.ExportHex() }

func (m *accessTokens) Issue(sellerID int64, sessionID string, epoch int64, now time.Time) (string, time.Time) {
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("uid", strconv.FormatInt(sellerID, 10))
	tok.SetString("sid", sessionID)
	tok.SetString("ep", strconv.FormatInt(epoch, 10))

	return tok.V4Sign(m.secret, nil), exp
}

func (m *accessTokens) Verify(token string, now time.Time) (AccessClaims, error) {
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(now.Add(m.skew)))
	p.AddRule(paseto.NotExpired())

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	uid, err := parsed.GetString("uid")
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	sellerID, err := strconv.ParseInt(uid, 10, 64)
	if err != nil || sellerID <= 0 {
		return AccessClaims{}, ErrInvalidToken
	}
	sid, err := parsed.GetString("sid")
	if err != nil || sid == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	ep, err := parsed.GetString("ep")
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	epoch, err := strconv.ParseInt(ep, 10, 64)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()
	return AccessClaims{
		SellerID:  sellerID,
		SessionID: sid,
		Epoch:     epoch,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}
