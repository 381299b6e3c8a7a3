// Package claims validates inbound identity tokens against the coalition
// issuer's published signing keys and extracts the normalized Subject both
// enforcement points evaluate. Verification is all-or-nothing: a Subject is
// never partially populated.
package claims

import (
	"context"
	"crypto"
	"errors"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"accord/internal/claims/metrics"
	"accord/internal/subject"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	pstrings "accord/pkg/platform/strings"
)

// asymmetricMethods lists the accepted signature algorithms. HMAC and "none"
// never reach the keyfunc; a coalition IdP signs with asymmetric keys only.
var asymmetricMethods = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// tokenClaims is the raw claim shape issued by the IdP. The amr/acr values
// come from the issuer's authentication-method enrichment at login.
type tokenClaims struct {
	Clearance            string           `json:"clearance"`
	CountryOfAffiliation string           `json:"countryOfAffiliation"`
	COI                  []string         `json:"coi"`
	ACR                  string           `json:"acr"`
	AMR                  []string         `json:"amr"`
	AuthTime             *jwt.NumericDate `json:"auth_time"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and produces normalized Subjects.
type Verifier struct {
	keys     KeyResolver
	parser   *jwt.Parser
	logger   *slog.Logger
	metrics  *metrics.Metrics
	issuer   string
	audience string
}

// NewVerifier builds a Verifier bound to one issuer and service audience.
func NewVerifier(keys KeyResolver, issuer, audience string, logger *slog.Logger, m *metrics.Metrics) *Verifier {
	return &Verifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods(asymmetricMethods),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
		),
		logger:   logger,
		metrics:  m,
		issuer:   issuer,
		audience: audience,
	}
}

// Verify validates the token end to end and returns the normalized Subject.
// Every failure mode (bad signature, expiry, wrong audience or issuer,
// missing or malformed mandatory attribute) maps to CodeUnauthorized; the
// caller must deny, never retry with defaults.
func (v *Verifier) Verify(ctx context.Context, token string) (*subject.Subject, error) {
	if token == "" {
		v.metrics.IncrementVerification("invalid_token")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token")
	}

	var raw tokenClaims
	parsed, err := v.parser.ParseWithClaims(token, &raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header missing kid")
		}
		return v.keys.Resolve(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			// Key fetch failure is an infrastructure fault; still denies, but
			// tagged distinctly for operability.
			v.metrics.IncrementVerification("key_unavailable")
			v.logger.ErrorContext(ctx, "signing key fetch failed during verification", "error", err.Error())
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token verification unavailable")
		}
		v.metrics.IncrementVerification("invalid_token")
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		v.metrics.IncrementVerification("invalid_token")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	subj, err := v.normalize(&raw)
	if err != nil {
		v.metrics.IncrementVerification("missing_attribute")
		v.logger.WarnContext(ctx, "token rejected: attribute validation failed",
			"subject", raw.Subject,
			"error", err.Error(),
		)
		return nil, err
	}

	v.metrics.IncrementVerification("ok")
	return subj, nil
}

// normalize extracts the mandatory attribute set. Absence of any attribute
// except coi is a verification failure, not a default.
func (v *Verifier) normalize(raw *tokenClaims) (*subject.Subject, error) {
	if raw.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing subject identifier")
	}

	clearance, err := subject.ParseClearance(raw.Clearance)
	if err != nil {
		if raw.Clearance == "" {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing clearance attribute")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "token carries invalid clearance")
	}

	if raw.CountryOfAffiliation == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing country of affiliation")
	}
	if !subject.ValidCountryCode(raw.CountryOfAffiliation) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token carries unrecognized country code")
	}

	if raw.ACR == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing authentication context")
	}
	amr := pstrings.DedupeAndTrimLower(raw.AMR)
	if len(amr) == 0 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing authentication methods")
	}
	if raw.AuthTime == nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token missing auth_time")
	}

	return &subject.Subject{
		UniqueID:             raw.Subject,
		Clearance:            clearance,
		CountryOfAffiliation: raw.CountryOfAffiliation,
		COI:                  pstrings.DedupeAndTrim(raw.COI),
		ACR:                  raw.ACR,
		AMR:                  amr,
		AuthTime:             raw.AuthTime.Time,
	}, nil
}

// StaticResolver resolves keys from a fixed map. Test helper; production uses
// the JWKS-backed Keystore.
type StaticResolver map[string]crypto.PublicKey

func (r StaticResolver) Resolve(_ context.Context, kid string) (crypto.PublicKey, error) {
	key, ok := r[kid]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return key, nil
}
