package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuer("test-secret", "secpipeline", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return ti
}

func TestNewTokenIssuer_requiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("", "x", 0); err != ErrSecretRequired {
		t.Errorf("expected ErrSecretRequired, got %v", err)
	}
}

func TestIssueVerify_roundTrip(t *testing.T) {
	ti := newIssuer(t)
	tok, err := ti.Issue("soc-oncall", RoleOperator)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := ti.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "soc-oncall" || claims.Role != RoleOperator {
		t.Errorf("claims: %+v", claims)
	}
}

func TestVerify_rejectsOtherSecret(t *testing.T) {
	tok, _ := newIssuer(t).Issue("x", RoleAdmin)
	other, _ := NewTokenIssuer("different", "secpipeline", time.Hour)
	if _, err := other.Verify(tok); err == nil {
		t.Error("token signed with another secret verified")
	}
}

func TestVerify_rejectsExpired(t *testing.T) {
	ti, _ := NewTokenIssuer("test-secret", "secpipeline", -time.Minute)
	tok, _ := ti.Issue("x", RoleOperator)
	if _, err := ti.Verify(tok); err == nil {
		t.Error("expired token verified")
	}
}

func TestIssue_unknownRole(t *testing.T) {
	if _, err := newIssuer(t).Issue("x", "root"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func router(tokens *TokenIssuer, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/p", Require(tokens, role), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func do(r *gin.Engine, token string) int {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequire(t *testing.T) {
	ti := newIssuer(t)
	op, _ := ti.Issue("a", RoleOperator)
	admin, _ := ti.Issue("b", RoleAdmin)

	if code := do(router(ti, RoleOperator), ""); code != http.StatusUnauthorized {
		t.Errorf("missing token: got %d", code)
	}
	if code := do(router(ti, RoleOperator), "garbage"); code != http.StatusUnauthorized {
		t.Errorf("bad token: got %d", code)
	}
	if code := do(router(ti, RoleOperator), op); code != http.StatusOK {
		t.Errorf("operator on operator route: got %d", code)
	}
	if code := do(router(ti, RoleAdmin), op); code != http.StatusForbidden {
		t.Errorf("operator on admin route: got %d", code)
	}
	if code := do(router(ti, RoleOperator), admin); code != http.StatusOK {
		t.Errorf("admin on operator route: got %d", code)
	}
}

func TestRequire_disabledWithoutIssuer(t *testing.T) {
	if code := do(router(nil, RoleAdmin), ""); code != http.StatusOK {
		t.Errorf("nil issuer should allow, got %d", code)
	}
}
