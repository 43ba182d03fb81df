// Package keycodec generates and verifies tamper-evident license keys.
//
// Keys look like SKM-PRO-B2F8N6J1-Q7: a fixed prefix, a three-letter
// plan code, eight characters of random entropy and a two-character
// integrity tag. The tag is derived from an HMAC-SHA256 over the rest
// of the key using a server-held secret, so a key can be checked
// without any database access.
package keycodec

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"skymaintain.app/licensing/models"
)

var (
	// ErrMalformed means the string does not have the shape of a
	// license key at all.
	ErrMalformed = errors.New("license key is malformed")
	// ErrTamperDetected means the shape is right but the integrity
	// tag does not match the key body.
	ErrTamperDetected = errors.New("license key failed integrity check")
)

const keyPrefix = "SKM"

// Uppercase alphanumerics minus the ambiguous 0/O and 1/I.
const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const randomLen = 8

var planCodes = map[models.Plan]string{
	models.PlanStarter:      "STR",
	models.PlanProfessional: "PRO",
	models.PlanEnterprise:   "ENT",
}

var codePlans = map[string]models.Plan{
	"STR": models.PlanStarter,
	"PRO": models.PlanProfessional,
	"ENT": models.PlanEnterprise,
}

var keyPattern = regexp.MustCompile(`^SKM-([A-Z2-9]{3})-([A-Z2-9]{8})-([A-Z2-9]{2})$`)

// Codec generates and verifies keys with a fixed secret. It is pure
// and safe for concurrent use.
type Codec struct {
	secret []byte
}

func New(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// KeyInfo is what a key proves about itself without storage access.
type KeyInfo struct {
	Plan models.Plan
}

// Generate produces a new key for the given plan. Entropy comes from
// crypto/rand; uniqueness against already-issued keys is the caller's
// problem (the store's unique constraint catches the astronomically
// unlikely collision).
func (c *Codec) Generate(plan models.Plan) (string, error) {
	code, ok := planCodes[plan]
	if !ok {
		return "", fmt.Errorf("no plan code for plan %q", plan)
	}

	random, err := randomChars(randomLen)
	if err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}

	body := fmt.Sprintf("%s-%s-%s", keyPrefix, code, random)
	return body + "-" + c.tag(body), nil
}

// VerifyFormat checks a key's shape and integrity tag using only the
// string and the secret. The tag comparison is constant-time.
func (c *Codec) VerifyFormat(key string) (KeyInfo, error) {
	k := Normalize(key)

	m := keyPattern.FindStringSubmatch(k)
	if m == nil {
		return KeyInfo{}, ErrMalformed
	}

	body := k[:strings.LastIndex(k, "-")]
	if !hmac.Equal([]byte(m[3]), []byte(c.tag(body))) {
		return KeyInfo{}, ErrTamperDetected
	}

	// Unreachable for untampered keys: a valid tag implies the plan
	// code is one we generated.
	plan, ok := codePlans[m[1]]
	if !ok {
		return KeyInfo{}, ErrMalformed
	}

	return KeyInfo{Plan: plan}, nil
}

// Normalize maps user input to the canonical stored form.
func Normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func (c *Codec) tag(body string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	sum := mac.Sum(nil)
	return string([]byte{
		charset[int(sum[0])%len(charset)],
		charset[int(sum[1])%len(charset)],
	})
}

func randomChars(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = charset[int(b)%len(charset)]
	}
	return string(out), nil
}
