package tenant

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	alphanumAlphabet    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	punctuationAlphabet = "!@#$%^&*"
)

// NewTenantID derives a URL-safe, globally-unique-under-contention id from
// businessName: a lowercase alnum slug (max 20 chars) plus 6 hex chars of
// entropy, kept to the spec's ≤ 32 char bound (§3).
func NewTenantID(businessName string) (string, error) {
	slug := slugify(businessName, 20)
	entropy, err := randomHex(3)
	if err != nil {
		return "", fmt.Errorf("generating tenant id entropy: %w", err)
	}
	return fmt.Sprintf("%s-%s", slug, entropy), nil
}

func slugify(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
		if b.Len() >= maxLen {
			break
		}
	}
	if b.Len() == 0 {
		return "tenant"
	}
	return b.String()
}

func randomHex(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// randomFromAlphabet draws n cryptographically random characters from alphabet.
func randomFromAlphabet(alphabet string, n int) (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// generateSecurePassword produces a length-character password mixing the
// alphanumeric alphabet with 8 punctuation characters, per §4.2 step 2:
// "admin password 16 chars from 62-char alphabet + 8 punctuation chars".
func generateSecurePassword(length int) (string, error) {
	return randomFromAlphabet(alphanumAlphabet+punctuationAlphabet, length)
}

// GenerateCredentials produces the full credential bundle for a newly
// provisioned tenant (§4.2 step 2). domain is used only to derive the admin
// email; nothing here is persisted by this package.
func GenerateCredentials(tenantID, domain string) (Credentials, error) {
	adminPassword, err := generateSecurePassword(16)
	if err != nil {
		return Credentials{}, fmt.Errorf("generating admin password: %w", err)
	}
	dbRootPass, err := generateSecurePassword(20)
	if err != nil {
		return Credentials{}, fmt.Errorf("generating db root password: %w", err)
	}
	dbUserPass, err := generateSecurePassword(16)
	if err != nil {
		return Credentials{}, fmt.Errorf("generating db user password: %w", err)
	}
	cachePassword, err := generateSecurePassword(16)
	if err != nil {
		return Credentials{}, fmt.Errorf("generating cache password: %w", err)
	}

	return Credentials{
		AdminUser:     "admin",
		AdminPassword: adminPassword,
		AdminEmail:    fmt.Sprintf("admin@%s", domain),
		DBRootPass:    dbRootPass,
		DBUserPass:    dbUserPass,
		CachePassword: cachePassword,
	}, nil
}

// FingerprintCredentials returns a SHA-256 digest of the credential bundle
// suitable for audit logging — never the credentials themselves.
func FingerprintCredentials(c Credentials) string {
	h := sha256.New()
	h.Write([]byte(c.AdminPassword + c.DBRootPass + c.DBUserPass + c.CachePassword))
	return hex.EncodeToString(h.Sum(nil))
}
