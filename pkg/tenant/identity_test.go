package tenant

import (
	"regexp"
	"testing"
)

func TestNewTenantID_FormatAndLength(t *testing.T) {
	id, err := NewTenantID("Example Hosting Co.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(id) > 32 {
		t.Fatalf("tenant id %q exceeds 32 chars", id)
	}
	if !regexp.MustCompile(`^[a-z0-9]+-[0-9a-f]{6}$`).MatchString(id) {
		t.Fatalf("tenant id %q does not match slug-hex shape", id)
	}
}

func TestNewTenantID_Uniqueness(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := NewTenantID("Acme")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate tenant id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestNewTenantID_EmptyBusinessNameFallsBack(t *testing.T) {
	id, err := NewTenantID("!!!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !regexp.MustCompile(`^tenant-[0-9a-f]{6}$`).MatchString(id) {
		t.Fatalf("expected fallback slug, got %q", id)
	}
}

func TestGenerateCredentials_LengthsAndUniqueness(t *testing.T) {
	c1, err := GenerateCredentials("acme-abc123", "acme.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c1.AdminPassword) != 16 {
		t.Fatalf("expected 16-char admin password, got %d", len(c1.AdminPassword))
	}
	if len(c1.DBRootPass) != 20 {
		t.Fatalf("expected 20-char root password, got %d", len(c1.DBRootPass))
	}
	if len(c1.DBUserPass) != 16 {
		t.Fatalf("expected 16-char db user password, got %d", len(c1.DBUserPass))
	}
	if c1.AdminEmail != "admin@acme.example.com" {
		t.Fatalf("unexpected admin email: %s", c1.AdminEmail)
	}

	c2, err := GenerateCredentials("acme-abc123", "acme.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c1.AdminPassword == c2.AdminPassword {
		t.Fatal("expected distinct passwords across calls")
	}
}

func TestCredentials_Zero(t *testing.T) {
	c, err := GenerateCredentials("acme-abc123", "acme.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Zero()
	if c.AdminPassword != "" || c.DBRootPass != "" || c.DBUserPass != "" || c.CachePassword != "" {
		t.Fatal("expected all secret fields cleared after Zero")
	}
}

func TestNamingScheme(t *testing.T) {
	tenantID := "acme-abc123"
	if Namespace(tenantID) != "client-acme-abc123" {
		t.Fatalf("unexpected namespace: %s", Namespace(tenantID))
	}
	if WordPressDeploymentName(tenantID) != "wp-acme-abc123" {
		t.Fatalf("unexpected wp deployment name: %s", WordPressDeploymentName(tenantID))
	}
	if DatabaseDeploymentName(tenantID) != "db-acme-abc123" {
		t.Fatalf("unexpected db deployment name: %s", DatabaseDeploymentName(tenantID))
	}
}
