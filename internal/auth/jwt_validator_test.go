package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func TestTokenValidator(t *testing.T) {
	now := time.Now()
	validator := TokenValidator{Issuer: "vaayugo", Audience: "vaayugo-app", ClockSkew: time.Second, Algorithm: jwa.HS256}

	cases := []struct {
		name    string
		issuer  string
		subject string
		nbf     time.Time
		exp     time.Time
		alg     jwa.SignatureAlgorithm
		wantErr bool
	}{
		{name: "valid", issuer: "vaayugo", nbf: now, exp: now.Add(time.Minute), alg: jwa.HS256},
		{name: "issuer mismatch", issuer: "other", nbf: now, exp: now.Add(time.Minute), alg: jwa.HS256, wantErr: true},
		{name: "expired", issuer: "vaayugo", nbf: now.Add(-2 * time.Hour), exp: now.Add(-time.Minute), alg: jwa.HS256, wantErr: true},
		{name: "not yet valid", issuer: "vaayugo", nbf: now.Add(5 * time.Minute), exp: now.Add(10 * time.Minute), alg: jwa.HS256, wantErr: true},
		{name: "algorithm mismatch", issuer: "vaayugo", nbf: now, exp: now.Add(time.Minute), alg: jwa.RS256, wantErr: true},
		{name: "non numeric subject", issuer: "vaayugo", subject: "shop-7", nbf: now, exp: now.Add(time.Minute), alg: jwa.HS256, wantErr: true},
		{name: "zero subject", issuer: "vaayugo", subject: "0", nbf: now, exp: now.Add(time.Minute), alg: jwa.HS256, wantErr: true},
		{name: "missing expiry", issuer: "vaayugo", nbf: now, alg: jwa.HS256, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			subject := tc.subject
			if subject == "" {
				subject = "42"
			}
			builder := jwt.NewBuilder().
				Issuer(tc.issuer).
				Audience([]string{"vaayugo-app"}).
				Subject(subject).
				IssuedAt(now).
				NotBefore(tc.nbf)
			if !tc.exp.IsZero() {
				builder = builder.Expiration(tc.exp)
			}
			token, err := builder.Build()
			require.NoError(t, err)
			err = validator.Validate(token, tc.alg, now)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}

	require.Error(t, validator.Validate(nil, jwa.HS256, now))
}
