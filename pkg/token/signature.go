package token

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Sign returns the hex HMAC-SHA1 of data keyed like tokens (access token,
// falling back to the connector secret).
func Sign(creds Credentials, data string) (string, error) {
	if err := creds.check(); err != nil {
		return "", err
	}
	return sign(creds, data), nil
}

func sign(creds Credentials, data string) string {
	mac := hmac.New(sha1.New, creds.signingKey())
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// CurrentUserID checks a signed user id cookie. userSig has the form
// "<time>.<signature>" where signature signs "<time>-<userID>".
func CurrentUserID(creds Credentials, userID, userSig string) (bool, error) {
	if err := creds.check(); err != nil {
		return false, err
	}
	if userID == "" || userSig == "" {
		return false, nil
	}
	ts, sig, ok := strings.Cut(userSig, ".")
	if !ok {
		return false, nil
	}
	want := sign(creds, ts+"-"+userID)
	return hmac.Equal([]byte(want), []byte(sig)), nil
}
