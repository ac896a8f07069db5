package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

const tokenPrefix = "SharedAccessSignature "

var (
	// ErrTokenExpired is returned by Verify for a token past its expiry.
	ErrTokenExpired = errors.New("sas token expired")

	// ErrTokenSignature is returned by Verify when the recomputed signature
	// does not match the one the token carries.
	ErrTokenSignature = errors.New("sas token signature mismatch")
)

// Scope identifies what a SAS token authorizes: a device path under a
// provisioning or hub hostname.
type Scope struct {
	Hostname interfaces.Hostname
	DeviceID interfaces.RegistrationID
}

// String returns the scope in its canonical unencoded form.
func (s Scope) String() string {
	return s.Hostname.String() + "/devices/" + s.DeviceID.String()
}

// Validate checks both scope components.
func (s Scope) Validate() error {
	if err := s.Hostname.Validate(); err != nil {
		return err
	}
	return s.DeviceID.Validate()
}

// Token is a minted SAS token together with its expiry in unix seconds.
type Token struct {
	Value  string
	Expiry int64
}

// IsExpiredAt reports whether the token is expired at the given instant.
// A token is expired at or after its expiry second.
func (t Token) IsExpiredAt(now time.Time) bool {
	return now.Unix() >= t.Expiry
}

// BuildToken mints a SAS token over the scope, expiring ttl after now.
// The signable string is the URL-encoded scope joined with the expiry by a
// newline. A signer error or an empty signature fails with
// ErrSigningFailed; no token with an empty signature field is ever
// produced. keyName is optional and appended as skn when set.
func BuildToken(signer interfaces.KeySigner, scope Scope, ttl time.Duration, keyName string, now time.Time) (Token, error) {
	if signer == nil {
		return Token{}, fmt.Errorf("%w: signer is nil", interfaces.ErrInvalidArgument)
	}
	if err := scope.Validate(); err != nil {
		return Token{}, err
	}
	if ttl <= 0 {
		return Token{}, fmt.Errorf("%w: ttl must be positive", interfaces.ErrInvalidArgument)
	}

	expiry := now.Unix() + int64(ttl/time.Second)
	encodedScope := url.QueryEscape(scope.String())
	signable := encodedScope + "\n" + strconv.FormatInt(expiry, 10)

	signature, err := signer.Sign([]byte(signable))
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", interfaces.ErrSigningFailed, err)
	}
	if len(signature) == 0 {
		return Token{}, fmt.Errorf("%w: signer returned an empty signature", interfaces.ErrSigningFailed)
	}

	var b strings.Builder
	b.WriteString(tokenPrefix)
	b.WriteString("sr=")
	b.WriteString(encodedScope)
	b.WriteString("&sig=")
	b.WriteString(url.QueryEscape(base64.StdEncoding.EncodeToString(signature)))
	b.WriteString("&se=")
	b.WriteString(strconv.FormatInt(expiry, 10))
	if keyName != "" {
		b.WriteString("&skn=")
		b.WriteString(url.QueryEscape(keyName))
	}

	return Token{Value: b.String(), Expiry: expiry}, nil
}

// ParsedToken is the decoded form of a SAS token. rawScope keeps the
// still-encoded sr value so Verify can rebuild the signable string exactly
// as the device signed it.
type ParsedToken struct {
	Scope     string
	Signature []byte
	Expiry    int64
	KeyName   string

	rawScope string
}

// ParseToken decodes a SAS token string. Structural violations fail with
// ErrInvalidArgument; percent- or base64-decoding failures fail with
// ErrEncodingFailed.
func ParseToken(raw string) (*ParsedToken, error) {
	if !strings.HasPrefix(raw, tokenPrefix) {
		return nil, fmt.Errorf("%w: missing SharedAccessSignature prefix", interfaces.ErrInvalidArgument)
	}

	fields := map[string]string{}
	for _, part := range strings.Split(raw[len(tokenPrefix):], "&") {
		key, value, found := strings.Cut(part, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("%w: malformed token field %q", interfaces.ErrInvalidArgument, part)
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("%w: duplicate token field %q", interfaces.ErrInvalidArgument, key)
		}
		fields[key] = value
	}

	rawScope, ok := fields["sr"]
	if !ok || rawScope == "" {
		return nil, fmt.Errorf("%w: token has no sr field", interfaces.ErrInvalidArgument)
	}
	rawSig, ok := fields["sig"]
	if !ok || rawSig == "" {
		return nil, fmt.Errorf("%w: token has no sig field", interfaces.ErrInvalidArgument)
	}
	rawExpiry, ok := fields["se"]
	if !ok || rawExpiry == "" {
		return nil, fmt.Errorf("%w: token has no se field", interfaces.ErrInvalidArgument)
	}

	scope, err := url.QueryUnescape(rawScope)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding scope: %v", interfaces.ErrEncodingFailed, err)
	}
	sigB64, err := url.QueryUnescape(rawSig)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding signature field: %v", interfaces.ErrEncodingFailed, err)
	}
	signature, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding signature: %v", interfaces.ErrEncodingFailed, err)
	}
	expiry, err := strconv.ParseInt(rawExpiry, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing expiry: %v", interfaces.ErrInvalidArgument, err)
	}

	keyName := ""
	if rawKeyName, ok := fields["skn"]; ok {
		keyName, err = url.QueryUnescape(rawKeyName)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding key name: %v", interfaces.ErrEncodingFailed, err)
		}
	}

	return &ParsedToken{
		Scope:     scope,
		Signature: signature,
		Expiry:    expiry,
		KeyName:   keyName,
		rawScope:  rawScope,
	}, nil
}

// Verify recomputes the token signature as HMAC-SHA256 under key and
// checks the expiry against now. The signable string is rebuilt from the
// raw encoded scope, so verification succeeds exactly when the device
// signed the same scope and expiry with the same key.
func (t *ParsedToken) Verify(key []byte, now time.Time) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: verification key is empty", interfaces.ErrInvalidArgument)
	}

	signable := t.rawScope + "\n" + strconv.FormatInt(t.Expiry, 10)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(signable))
	if !hmac.Equal(mac.Sum(nil), t.Signature) {
		return ErrTokenSignature
	}
	if now.Unix() >= t.Expiry {
		return ErrTokenExpired
	}
	return nil
}
