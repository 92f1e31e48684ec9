package auth

import (
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpIssuer = "QuickMessenger"
	totpPeriod = 30
	totpSkew   = 2
)

// GenerateTOTPSecret enrolls a second factor for an account and returns the
// base32 secret the client feeds into an authenticator app.
func GenerateTOTPSecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: account,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// VerifyTOTPCode checks a time-based code against an enrolled secret at time
// now, accepting codes up to two 30-second steps away in either direction.
func VerifyTOTPCode(code, secret string, now time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, now, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
